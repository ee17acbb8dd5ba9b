package template

// Template is a named email template. Inactive templates are treated the
// same as missing ones by the renderer.
type Template struct {
	Key      string
	Subject  string
	HTMLBody string
	TextBody string
	Active   bool
}

// Rendered is the expanded subject/body pair produced from a template
// plus a variable mapping.
type Rendered struct {
	Subject  string
	HTMLBody string
	TextBody string
}
