package venue

import (
	"encoding/json"

	"github.com/navid-fn/tickrelay/internal/models"
)

// canonicalMessage mirrors models.Trade with pointers so absent fields can
// be told apart from zero values.
type canonicalMessage struct {
	Type       string   `json:"TYPE"`
	Market     string   `json:"M"`
	FromSymbol string   `json:"FSYM"`
	ToSymbol   string   `json:"TSYM"`
	Side       *int     `json:"SIDE"`
	Action     *int     `json:"ACTION"`
	CCSeq      *int64   `json:"CCSEQ"`
	Price      *float64 `json:"P"`
	Quantity   *float64 `json:"Q"`
	Seq        int64    `json:"SEQ"`
	ReportedNS int64    `json:"REPORTEDNS"`
	DelayNS    int64    `json:"DELAYNS"`
}

// DecodeCanonical parses a message that already carries the canonical
// field set. SIDE, ACTION, CCSEQ, P and Q are required; SEQ and the
// timestamps default to zero.
func DecodeCanonical(exchange string, raw []byte) (models.Trade, error) {
	var msg canonicalMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return models.Trade{}, Wrap(exchange, "malformed json", err)
	}

	switch {
	case msg.Side == nil:
		return models.Trade{}, Failf(exchange, "missing SIDE")
	case msg.Action == nil:
		return models.Trade{}, Failf(exchange, "missing ACTION")
	case msg.CCSeq == nil:
		return models.Trade{}, Failf(exchange, "missing CCSEQ")
	case msg.Price == nil:
		return models.Trade{}, Failf(exchange, "missing P")
	case msg.Quantity == nil:
		return models.Trade{}, Failf(exchange, "missing Q")
	}

	trade := models.Trade{
		Type:            msg.Type,
		Exchange:        msg.Market,
		Base:            msg.FromSymbol,
		Quote:           msg.ToSymbol,
		Side:            models.Side(*msg.Side),
		Action:          models.Action(*msg.Action),
		SequenceID:      *msg.CCSeq,
		Price:           *msg.Price,
		Quantity:        *msg.Quantity,
		Seq:             msg.Seq,
		ReportedAtNanos: msg.ReportedNS,
		DelayNanos:      msg.DelayNS,
	}
	if err := trade.Validate(); err != nil {
		return models.Trade{}, Wrap(exchange, "invalid trade", err)
	}
	return trade, nil
}
