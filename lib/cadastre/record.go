package cadastre

// AddressNotFound stands for an address no source could provide.
const AddressNotFound = "Não encontrado"

// AggregatedRecord is everything gathered for one index. It is built fresh
// for every index and dropped once its report is written.
type AggregatedRecord struct {
	Index    Index
	Protocol Protocol
	// Address is the reconciled address used for the imagery lookup.
	Address     string
	Attachments []Attachment

	records map[SourceName]*SourceRecord
}

// NewAggregatedRecord creates one empty slot per source.
func NewAggregatedRecord(index Index, protocol Protocol) *AggregatedRecord {
	r := &AggregatedRecord{
		Index:    index,
		Protocol: protocol,
		records:  make(map[SourceName]*SourceRecord, len(Sources)),
	}
	for _, s := range Sources {
		r.records[s] = NewSourceRecord(s)
	}
	return r
}

// Record never returns nil for a known source.
func (r *AggregatedRecord) Record(source SourceName) *SourceRecord {
	return r.records[source]
}

// Missing lists the sources that contributed nothing, in execution order.
func (r *AggregatedRecord) Missing() []SourceName {
	var out []SourceName
	for _, s := range Sources {
		if !r.records[s].Found {
			out = append(out, s)
		}
	}
	return out
}

// AttachmentsOf returns the attachments of a classification keeping their
// order.
func (r *AggregatedRecord) AttachmentsOf(class Classification) []Attachment {
	var out []Attachment
	for _, a := range r.Attachments {
		if a.Class == class {
			out = append(out, a)
		}
	}
	return out
}
