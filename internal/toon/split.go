package toon

import "strings"

// SplitTopLevel splits s on commas that sit outside single/double quotes
// and outside any {} or [] nesting, so a serialized sub-structure embedded
// in a field is not torn apart.
func SplitTopLevel(s string) []string {
	return splitFields(s, false)
}

// SplitTopLevelStrict is the stricter variant that additionally treats ()
// as nesting.
func SplitTopLevelStrict(s string) []string {
	return splitFields(s, true)
}

func splitFields(s string, parens bool) []string {
	var (
		fields             []string
		current            strings.Builder
		inSingle, inDouble bool
		braces, brackets   int
		rounds             int
	)
	for _, r := range s {
		if r == '\'' && !inDouble {
			inSingle = !inSingle
		} else if r == '"' && !inSingle {
			inDouble = !inDouble
		} else if !inSingle && !inDouble {
			switch r {
			case '{':
				braces++
			case '}':
				braces--
			case '[':
				brackets++
			case ']':
				brackets--
			case '(':
				if parens {
					rounds++
				}
			case ')':
				if parens {
					rounds--
				}
			case ',':
				if braces == 0 && brackets == 0 && rounds == 0 {
					fields = append(fields, current.String())
					current.Reset()
					continue
				}
			}
		}
		current.WriteRune(r)
	}
	fields = append(fields, current.String())
	return fields
}
