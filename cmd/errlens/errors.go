package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/standardbeagle/errlens/internal/capture"
)

var errorsCmd = &cobra.Command{
	Use:   "errors",
	Short: "List errors captured by a running proxy",
	Long: `List the errors captured by a running 'errlens serve', newest last.

Examples:
  errlens errors --addr 127.0.0.1:8900
  errlens errors --addr 127.0.0.1:8900 --clear
  errlens errors --addr 127.0.0.1:8900 --flash 3f2c9d...`,
	RunE: runErrors,
}

func init() {
	errorsCmd.Flags().String("addr", "", "Proxy address (host:port)")
	errorsCmd.Flags().Bool("clear", false, "Remove every error and its highlights")
	errorsCmd.Flags().String("flash", "", "Scroll to and pulse the element with this highlight ID")
	errorsCmd.MarkFlagRequired("addr")
	rootCmd.AddCommand(errorsCmd)
}

func runErrors(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	base := "http://" + strings.TrimPrefix(addr, "http://") + "/__errlens"

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if clearAll, _ := cmd.Flags().GetBool("clear"); clearAll {
		if _, err := call(ctx, http.MethodDelete, base+"/errors"); err != nil {
			return err
		}
		fmt.Println("Errors cleared")
		return nil
	}
	if id, _ := cmd.Flags().GetString("flash"); id != "" {
		if _, err := call(ctx, http.MethodPost, base+"/highlights/"+id+"/flash"); err != nil {
			return err
		}
		fmt.Printf("Flashed %s\n", id)
		return nil
	}

	body, err := call(ctx, http.MethodGet, base+"/errors")
	if err != nil {
		return err
	}
	var records []capture.View
	if err := json.Unmarshal(body, &records); err != nil {
		return fmt.Errorf("invalid response: %w", err)
	}
	if len(records) == 0 {
		fmt.Println("No errors captured")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "COUNT\tKIND\tMESSAGE\tLOCATION\tHIGHLIGHTS")
	for _, r := range records {
		message := r.Message
		if len(message) > 60 {
			message = message[:57] + "..."
		}
		loc := "-"
		if !r.Location.IsZero() {
			loc = r.Location.String()
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", r.Count, r.Kind, message, loc, strings.Join(r.HighlightIDs, ","))
	}
	return w.Flush()
}

// call issues a request to a running proxy and returns the response body.
func call(ctx context.Context, method, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("proxy is not reachable: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			return nil, fmt.Errorf("%s", e.Error)
		}
		return nil, fmt.Errorf("proxy returned %s", resp.Status)
	}
	return body, nil
}
