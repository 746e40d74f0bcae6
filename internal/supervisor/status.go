package supervisor

import (
	"encoding/json"
	"io"
)

func writeJSONStatus(w io.Writer, v interface{}) error {
	return json.NewEncoder(w).Encode(v)
}
