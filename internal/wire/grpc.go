package wire

import (
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"
)

// gRPC names of the ingestion service. Messages are google.protobuf.Struct.
const (
	ServiceName       = "mbg.ingest.v1.Ingest"
	SubmitBatchName   = "SubmitBatch"
	SubmitBatchMethod = "/" + ServiceName + "/" + SubmitBatchName
)

// BatchToStruct encodes a batch as a protobuf Struct request.
// Params: batch outbound submission.
// Returns: Struct with batch_id and records or conversion error.
func BatchToStruct(batch Batch) (*structpb.Struct, error) {
	records := make([]any, 0, len(batch.Records))
	for _, record := range batch.Records {
		fields := map[string]any{
			"tag_id":      record.TagID,
			"occurred_at": record.OccurredAt,
			"status":      record.Status,
			"origin_id":   record.OriginID,
		}
		if record.EventKey != "" {
			fields["event_key"] = record.EventKey
		}
		records = append(records, fields)
	}

	request, err := structpb.NewStruct(map[string]any{
		"batch_id": batch.ID,
		"records":  records,
	})
	if err != nil {
		return nil, fmt.Errorf("encode batch: %w", err)
	}
	return request, nil
}

// BatchFromStruct decodes a Struct request into a batch.
// Params: request inbound Struct.
// Returns: batch or error when records is not a list of objects.
func BatchFromStruct(request *structpb.Struct) (Batch, error) {
	if request == nil {
		return Batch{}, fmt.Errorf("decode batch: empty request")
	}
	fields := request.GetFields()
	batch := Batch{ID: fields["batch_id"].GetStringValue()}

	list := fields["records"].GetListValue()
	if list == nil {
		return Batch{}, fmt.Errorf("decode batch: records must be a list")
	}
	batch.Records = make([]Record, 0, len(list.GetValues()))
	for idx, value := range list.GetValues() {
		item := value.GetStructValue()
		if item == nil {
			return Batch{}, fmt.Errorf("decode batch: records[%d] must be an object", idx)
		}
		recordFields := item.GetFields()
		batch.Records = append(batch.Records, Record{
			TagID:      recordFields["tag_id"].GetStringValue(),
			OccurredAt: recordFields["occurred_at"].GetStringValue(),
			Status:     recordFields["status"].GetStringValue(),
			OriginID:   recordFields["origin_id"].GetStringValue(),
			EventKey:   recordFields["event_key"].GetStringValue(),
		})
	}
	return batch, nil
}

// ResultToStruct encodes an acknowledgement.
func ResultToStruct(result Result) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"accepted":   structpb.NewNumberValue(float64(result.Accepted)),
		"duplicates": structpb.NewNumberValue(float64(result.Duplicates)),
	}}
}

// ResultFromStruct decodes an acknowledgement; missing fields read as zero.
func ResultFromStruct(response *structpb.Struct) Result {
	fields := response.GetFields()
	return Result{
		Accepted:   int(fields["accepted"].GetNumberValue()),
		Duplicates: int(fields["duplicates"].GetNumberValue()),
	}
}
