package report

import (
	"time"

	"github.com/golang/protobuf/jsonpb"
	structpb "github.com/golang/protobuf/ptypes/struct"

	"github.com/opentrv/otprovision/pkg/session"
)

// Encode renders an outcome as a JSON object. Key material is never part
// of it.
func Encode(out session.Outcome, station string, at time.Time) ([]byte, error) {
	fields := map[string]*structpb.Value{
		"serial":     stringValue(out.SerialNumber),
		"state":      stringValue(out.State.String()),
		"succeeded":  {Kind: &structpb.Value_BoolValue{BoolValue: out.Succeeded()}},
		"resolution": stringValue(out.Resolution.String()),
		"station":    stringValue(station),
		"time":       stringValue(at.UTC().Format(time.RFC3339)),
	}
	if out.ID != "" {
		fields["id"] = stringValue(out.ID)
	}
	if out.DelayEcho != "" {
		fields["delay"] = stringValue(out.DelayEcho)
	}
	if out.Reason != "" {
		fields["reason"] = stringValue(out.Reason)
	}
	str, err := (&jsonpb.Marshaler{}).MarshalToString(&structpb.Struct{Fields: fields})
	if err != nil {
		return nil, err
	}
	return []byte(str), nil
}

func stringValue(s string) *structpb.Value {
	return &structpb.Value{Kind: &structpb.Value_StringValue{StringValue: s}}
}
