package dom

import "strings"

// Declaration is a single inline CSS property.
type Declaration struct {
	Property string
	Value    string
}

// Declarations is an ordered inline style.
type Declarations []Declaration

// ParseStyle splits an inline style attribute into declarations. Semicolons
// inside quotes or parentheses do not terminate a declaration.
func ParseStyle(s string) Declarations {
	var decls Declarations
	for _, part := range splitDeclarations(s) {
		colon := strings.IndexByte(part, ':')
		if colon <= 0 {
			continue
		}
		prop := strings.ToLower(strings.TrimSpace(part[:colon]))
		val := strings.TrimSpace(part[colon+1:])
		if prop == "" {
			continue
		}
		decls.Set(prop, val)
	}
	return decls
}

func splitDeclarations(s string) []string {
	var parts []string
	var quote byte
	depth, start := 0, 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '(':
			depth++
		case c == ')':
			if depth > 0 {
				depth--
			}
		case c == ';' && depth == 0:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		parts = append(parts, s[start:])
	}
	return parts
}

// Get returns a property value and whether it is set.
func (d Declarations) Get(prop string) (string, bool) {
	prop = strings.ToLower(prop)
	for _, decl := range d {
		if decl.Property == prop {
			return decl.Value, true
		}
	}
	return "", false
}

// Set assigns a property, keeping its position if already present.
func (d *Declarations) Set(prop, value string) {
	prop = strings.ToLower(prop)
	for i, decl := range *d {
		if decl.Property == prop {
			(*d)[i].Value = value
			return
		}
	}
	*d = append(*d, Declaration{Property: prop, Value: value})
}

// Remove deletes a property.
func (d *Declarations) Remove(prop string) {
	prop = strings.ToLower(prop)
	for i, decl := range *d {
		if decl.Property == prop {
			*d = append((*d)[:i], (*d)[i+1:]...)
			return
		}
	}
}

// String serialises the declarations into an inline style attribute value.
func (d Declarations) String() string {
	parts := make([]string, len(d))
	for i, decl := range d {
		parts[i] = decl.Property + ": " + decl.Value
	}
	s := strings.Join(parts, "; ")
	if s != "" {
		s += ";"
	}
	return s
}
