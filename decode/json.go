package decode

import (
	"encoding/json"
	"fmt"

	activityindex "github.com/lucasjlepore/activity-index"
)

// jsonFormatVersion tags activities written by EncodeJSON.
const jsonFormatVersion = "activity.v1"

type jsonEnvelope struct {
	FormatVersion string                  `json:"format_version"`
	Activity      *activityindex.Activity `json:"activity"`
}

// EncodeJSON serializes an activity in the record format read back by Bytes
// for .json inputs.
func EncodeJSON(act *activityindex.Activity) ([]byte, error) {
	data, err := json.MarshalIndent(jsonEnvelope{FormatVersion: jsonFormatVersion, Activity: act}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal activity %s: %w", act.ID, err)
	}
	return append(data, '\n'), nil
}

func decodeJSON(path string, data []byte) (*activityindex.Activity, error) {
	fail := func(err error) (*activityindex.Activity, error) {
		return nil, &activityindex.DecodeError{Path: path, Offset: -1, Err: err}
	}

	var env jsonEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fail(fmt.Errorf("%w: %v", activityindex.ErrMalformedFrame, err))
	}
	if env.FormatVersion != jsonFormatVersion || env.Activity == nil {
		return fail(fmt.Errorf("%w: unexpected json format version %q", activityindex.ErrUnknownFormat, env.FormatVersion))
	}

	act := env.Activity
	for i := range act.Points {
		act.Points[i].Time = activityindex.NormalizeTime(act.Points[i].Time)
		if i > 0 && act.Points[i].Time.Before(act.Points[i-1].Time) {
			return fail(fmt.Errorf("%w: point %d", activityindex.ErrNonMonotonicTime, i))
		}
	}
	if act.ID == "" {
		act.ID = activityindex.IDFromPath(path)
	}
	act.StartTime = activityindex.NormalizeTime(act.StartTime)
	act.EndTime = activityindex.NormalizeTime(act.EndTime)
	return act, nil
}
