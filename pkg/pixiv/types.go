package pixiv

// illustPage is one page of a bookmarks or works listing
type illustPage struct {
	Illusts []illust `json:"illusts"`
	NextURL string   `json:"next_url"`
}

type illust struct {
	ID             int64          `json:"id"`
	Title          string         `json:"title"`
	Type           string         `json:"type"`
	ImageURLs      imageURLs      `json:"image_urls"`
	User           user           `json:"user"`
	MetaSinglePage metaSinglePage `json:"meta_single_page"`
	MetaPages      []metaPage     `json:"meta_pages"`
	PageCount      int            `json:"page_count"`
}

type imageURLs struct {
	SquareMedium string `json:"square_medium"`
	Medium       string `json:"medium"`
	Large        string `json:"large"`
	Original     string `json:"original"`
}

type user struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type metaSinglePage struct {
	OriginalImageURL string `json:"original_image_url"`
}

type metaPage struct {
	ImageURLs imageURLs `json:"image_urls"`
}

type ugoiraResponse struct {
	Metadata ugoiraMetadata `json:"ugoira_metadata"`
}

type ugoiraMetadata struct {
	ZipURLs struct {
		Medium string `json:"medium"`
	} `json:"zip_urls"`
	Frames []ugoiraFrame `json:"frames"`
}

type ugoiraFrame struct {
	File  string `json:"file"`
	Delay int    `json:"delay"`
}
