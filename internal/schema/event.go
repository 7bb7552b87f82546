// Package schema translates between the SendGrid event-webhook record and
// the fixed columnar (Parquet) schema the archive stores on disk.
package schema

// Event is the flat, fixed-schema record persisted to the archive. Every
// field except Email, Timestamp, and EventType is optional; optional
// strings are the empty string when absent, optional numeric fields are
// nil pointers so the on-disk column is genuinely null rather than zero.
//
// Column names are lower_snake_case and never change within a schema
// version: this struct tag set IS the on-disk schema.
type Event struct {
	Email     string `parquet:"email"`
	Timestamp int64  `parquet:"timestamp"`
	EventType string `parquet:"event"`

	Category               string `parquet:"category,optional,snappy"`
	SGEventID              string `parquet:"sg_event_id,optional,snappy"`
	SGMessageID            string `parquet:"sg_message_id,optional,snappy"`
	SGTemplateID           string `parquet:"sg_template_id,optional,snappy"`
	SMTPID                 string `parquet:"smtp_id,optional,snappy"`
	UserAgent              string `parquet:"useragent,optional,snappy"`
	IP                     string `parquet:"ip,optional,snappy"`
	URL                    string `parquet:"url,optional,snappy"`
	Reason                 string `parquet:"reason,optional,snappy"`
	Status                 string `parquet:"status,optional,snappy"`
	Response               string `parquet:"response,optional,snappy"`
	Attempt                string `parquet:"attempt,optional,snappy"`
	Type                   string `parquet:"type,optional,snappy,dict"`
	BounceClassification   string `parquet:"bounce_classification,optional,snappy"`
	MarketingCampaignName  string `parquet:"marketing_campaign_name,optional,snappy"`
	PoolName               string `parquet:"pool_name,optional,snappy"`

	TLS                 *int32 `parquet:"tls,optional"`
	ASMGroupID           *int32 `parquet:"asm_group_id,optional"`
	MarketingCampaignID  *int32 `parquet:"marketing_campaign_id,optional"`
	PoolID               *int32 `parquet:"pool_id,optional"`

	SendAt *int64 `parquet:"send_at,optional"`
}

// WireEvent is the shape of one element of the SendGrid Event Webhook JSON
// array: the wire field names (including the `smtp-id` hyphen and the
// nested `pool` object) before they are flattened onto Event.
type WireEvent struct {
	Email     string `json:"email"`
	Timestamp int64  `json:"timestamp"`
	Event     string `json:"event"`

	Category interface{} `json:"category,omitempty"`

	SGEventID            string `json:"sg_event_id,omitempty"`
	SGMessageID          string `json:"sg_message_id,omitempty"`
	SGTemplateID         string `json:"sg_template_id,omitempty"`
	SMTPID               string `json:"smtp-id,omitempty"`
	UserAgent            string `json:"useragent,omitempty"`
	IP                   string `json:"ip,omitempty"`
	URL                  string `json:"url,omitempty"`
	Reason               string `json:"reason,omitempty"`
	Status               string `json:"status,omitempty"`
	Response             string `json:"response,omitempty"`
	Attempt              string `json:"attempt,omitempty"`
	Type                 string `json:"type,omitempty"`
	BounceClassification string `json:"bounce_classification,omitempty"`
	MarketingCampaignName string `json:"marketing_campaign_name,omitempty"`

	TLS                 *int32 `json:"tls,omitempty"`
	ASMGroupID          *int32 `json:"asm_group_id,omitempty"`
	MarketingCampaignID *int32 `json:"marketing_campaign_id,omitempty"`
	SendAt              *int64 `json:"send_at,omitempty"`

	Pool *WirePool `json:"pool,omitempty"`
}

// WirePool is the nested object SendGrid sends for marketing-campaign
// events; it is flattened onto Event.PoolName / Event.PoolID.
type WirePool struct {
	Name string `json:"name,omitempty"`
	ID   *int32 `json:"id,omitempty"`
}

// FromWire flattens a single wire-format event into the on-disk Event
// shape. category is carried through as raw JSON text (string or array
// literal, whichever the sender used) rather than being normalized.
func FromWire(w WireEvent, rawCategory string) Event {
	e := Event{
		Email:                  w.Email,
		Timestamp:              w.Timestamp,
		EventType:              w.Event,
		Category:               rawCategory,
		SGEventID:              w.SGEventID,
		SGMessageID:            w.SGMessageID,
		SGTemplateID:           w.SGTemplateID,
		SMTPID:                 w.SMTPID,
		UserAgent:              w.UserAgent,
		IP:                     w.IP,
		URL:                    w.URL,
		Reason:                 w.Reason,
		Status:                 w.Status,
		Response:               w.Response,
		Attempt:                w.Attempt,
		Type:                   w.Type,
		BounceClassification:   w.BounceClassification,
		MarketingCampaignName:  w.MarketingCampaignName,
		TLS:                    w.TLS,
		ASMGroupID:             w.ASMGroupID,
		MarketingCampaignID:    w.MarketingCampaignID,
		SendAt:                 w.SendAt,
	}
	if w.Pool != nil {
		e.PoolName = w.Pool.Name
		e.PoolID = w.Pool.ID
	}
	return e
}
