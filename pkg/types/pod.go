package types

// PointOfDeliveryEntry is a point of delivery exactly as the portal lists it.
type PointOfDeliveryEntry struct {
	DisplayLabel  string `json:"text"`
	SessionHandle string `json:"value"`
}

// PointOfDelivery is a metering point with its stable identifier extracted.
// SessionHandle is only valid for the login session that listed it and must
// never be used as a storage key.
type PointOfDelivery struct {
	StableID      string `json:"id"`
	DisplayLabel  string `json:"label"`
	SessionHandle string `json:"-"`
}
