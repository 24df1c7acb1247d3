package session

import (
	"errors"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
)

// errorText returns the message of err with GB18030 bytes that some
// drivers pass through from the server locale decoded back into UTF-8.
// Valid UTF-8 is returned as is.
func errorText(err error) string {
	if err == nil {
		return ""
	}
	var uiErr *Error
	if errors.As(err, &uiErr) {
		return repairDriverText(uiErr.Message)
	}
	return repairDriverText(err.Error())
}

// repairDriverText splits text into runs of non-ASCII bytes. A run that is
// valid UTF-8 is copied unchanged; only a run holding invalid bytes is
// re-decoded.
func repairDriverText(text string) string {
	if utf8.ValidString(text) {
		return text
	}

	var out strings.Builder
	out.Grow(len(text))
	for i := 0; i < len(text); {
		if text[i] < utf8.RuneSelf {
			out.WriteByte(text[i])
			i++
			continue
		}
		end := i
		for end < len(text) && text[end] >= utf8.RuneSelf {
			end++
		}
		run := text[i:end]
		if utf8.ValidString(run) {
			out.WriteString(run)
		} else {
			out.WriteString(decodeRun(run))
		}
		i = end
	}
	return out.String()
}

func decodeRun(run string) string {
	decoded, _, err := transform.String(simplifiedchinese.GB18030.NewDecoder(), run)
	if err != nil || !utf8.ValidString(decoded) || strings.ContainsRune(decoded, utf8.RuneError) {
		return strings.ToValidUTF8(run, string(utf8.RuneError))
	}
	return decoded
}
