package evidence

// Status explains why a bundle may be empty.
type Status string

const (
	StatusDisabled      Status = "disabled"
	StatusDriverMissing Status = "driver_missing"
	StatusError         Status = "error"
	StatusOK            Status = "ok"
)

// Bundle is the evidence handed to the prompt composer. It is always
// structurally complete, even when the store is absent.
type Bundle struct {
	Status Status `json:"status"`
	Reason string `json:"reason"`
	Price  Price  `json:"price"`
	News   News   `json:"news"`
}

type Price struct {
	Summary string     `json:"summary"`
	Rows    []PriceRow `json:"rows"`
}

// PriceRow is one daily close for a commodity.
type PriceRow struct {
	Commodity string   `json:"commodity"`
	Date      string   `json:"dt"`
	Close     *float64 `json:"close"`
	ChangePct *float64 `json:"change_pct"`
}

type News struct {
	Snippets []Snippet `json:"snippets"`
}

type Snippet struct {
	Title  string `json:"title"`
	Date   string `json:"date"`
	Source string `json:"source"`
	Text   string `json:"text"`
}

// Empty returns a well-formed bundle with the given status.
func Empty(status Status, reason string) Bundle {
	return Bundle{
		Status: status,
		Reason: reason,
		Price:  Price{Rows: []PriceRow{}},
		News:   News{Snippets: []Snippet{}},
	}
}

func (b Bundle) OK() bool { return b.Status == StatusOK }
