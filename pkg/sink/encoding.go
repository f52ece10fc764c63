package sink

import (
	"encoding/json"
	"fmt"

	"github.com/IEatCodeDaily/cdc-fanout/pkg/pipeline"
)

// encodeRecord renders one payload as a newline terminated JSON document so
// records concatenated by the delivery stream stay line delimited.
func encodeRecord(payload pipeline.Payload) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", payload.Type(), err)
	}
	return append(data, '\n'), nil
}

func encodeRecords(payloads []pipeline.Payload) ([][]byte, error) {
	records := make([][]byte, 0, len(payloads))
	for _, payload := range payloads {
		data, err := encodeRecord(payload)
		if err != nil {
			return nil, err
		}
		records = append(records, data)
	}
	return records, nil
}
