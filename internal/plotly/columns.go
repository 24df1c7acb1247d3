package plotly

import (
	"encoding/base64"
	"errors"
)

// Columns transposes rows into at most maxColumns columns. Rows shorter
// than the first row leave nil cells.
func Columns(rows [][]interface{}, maxColumns int) [][]interface{} {
	width := 0
	if len(rows) > 0 {
		width = len(rows[0])
	}
	if maxColumns < width {
		width = maxColumns
	}
	if width < 0 {
		width = 0
	}
	columns := make([][]interface{}, width)
	for i := range columns {
		columns[i] = make([]interface{}, len(rows))
	}
	for r, row := range rows {
		for i := 0; i < width && i < len(row); i++ {
			columns[i][r] = row[i]
		}
	}
	return columns
}

func basicAuth(username, password string) string {
	return base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
}

func asStatusError(err error, target **StatusError) bool {
	return errors.As(err, target)
}
