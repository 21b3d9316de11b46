package shtml

// attrSpan is the location of an attribute within a raw start tag token.
type attrSpan struct {
	name  int // offset of the attribute name within the token
	value int // offset of the value within the token, -1 for attributes without value
}

// scanAttributeSpans scans the raw start tag token to find the attribute positions, in
// the order the attributes are written.
func scanAttributeSpans(raw []byte) []attrSpan {
	var result []attrSpan

	// Skip '<' and tag name
	pos := 0
	if pos < len(raw) && raw[pos] == '<' {
		pos++
	}
	for pos < len(raw) && !isAttrSpace(raw[pos]) && raw[pos] != '>' && raw[pos] != '/' {
		pos++
	}

	for pos < len(raw) {
		// Skip whitespace and stray slashes
		for pos < len(raw) && (isAttrSpace(raw[pos]) || raw[pos] == '/') {
			pos++
		}
		if pos >= len(raw) || raw[pos] == '>' {
			break
		}

		span := attrSpan{name: pos, value: -1}

		// Find attribute name end
		for pos < len(raw) && raw[pos] != '=' && !isAttrSpace(raw[pos]) && raw[pos] != '>' && raw[pos] != '/' {
			pos++
		}
		for pos < len(raw) && isAttrSpace(raw[pos]) {
			pos++
		}
		if pos >= len(raw) || raw[pos] != '=' {
			// Attribute without value
			result = append(result, span)
			continue
		}
		pos++ // skip '='
		for pos < len(raw) && isAttrSpace(raw[pos]) {
			pos++
		}
		if pos >= len(raw) {
			result = append(result, span)
			break
		}

		if raw[pos] == '"' || raw[pos] == '\'' {
			quote := raw[pos]
			pos++ // skip opening quote
			span.value = pos
			for pos < len(raw) && raw[pos] != quote {
				pos++
			}
			if pos < len(raw) {
				pos++ // skip closing quote
			}
		} else {
			span.value = pos
			for pos < len(raw) && !isAttrSpace(raw[pos]) && raw[pos] != '>' {
				pos++
			}
		}
		result = append(result, span)
	}

	return result
}

func isAttrSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == '\f'
}
