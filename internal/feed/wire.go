package feed

// TickMessage is the tick-feed wire schema. Prices are decimal strings;
// timestamps epoch-millis.
type TickMessage struct {
	Symbol    string `json:"symbol"`
	Price     string `json:"price"`
	Timestamp int64  `json:"timestamp"`
}

// QuoteMessage is the quote-feed wire schema.
type QuoteMessage struct {
	Symbol    string `json:"symbol"`
	Bid       string `json:"bid"`
	Ask       string `json:"ask"`
	Timestamp int64  `json:"timestamp"`
}
