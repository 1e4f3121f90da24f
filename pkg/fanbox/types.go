package fanbox

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type listResponse struct {
	Body *listBody `json:"body"`
}

type listBody struct {
	Items   []postSummary `json:"items"`
	NextURL string        `json:"nextUrl"`
}

type postSummary struct {
	ID                string `json:"id"`
	Title             string `json:"title"`
	PublishedDatetime string `json:"publishedDatetime"`
	IsRestricted      bool   `json:"isRestricted"`
}

type infoResponse struct {
	Body *post `json:"body"`
}

type post struct {
	ID    string       `json:"id"`
	Title string       `json:"title"`
	Type  string       `json:"type"`
	Body  *postContent `json:"body"`
}

type postContent struct {
	Images   []image           `json:"images"`
	ImageMap orderedMap[image] `json:"imageMap"`
	Files    []file            `json:"files"`
	FileMap  orderedMap[file]  `json:"fileMap"`
	Text     string            `json:"text"`
}

type image struct {
	ID          string `json:"id"`
	Extension   string `json:"extension"`
	OriginalURL string `json:"originalUrl"`
}

type file struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Extension string `json:"extension"`
	URL       string `json:"url"`
}

// orderedMap decodes a JSON object keeping its values in document order.
// Article posts list their images as an object keyed by id.
type orderedMap[T any] []T

func (m *orderedMap[T]) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*m = nil
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("expected object, got %v", tok)
	}

	var out []T
	for dec.More() {
		if _, err := dec.Token(); err != nil {
			return err
		}
		var v T
		if err := dec.Decode(&v); err != nil {
			return err
		}
		out = append(out, v)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*m = out
	return nil
}
