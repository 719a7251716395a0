// Package export writes a finished RunState out as an Arrow IPC stream:
// one row per iteration, for offline analysis. This is a one-shot
// post-run dump, not a persistence layer — nothing is read back by the
// loop engine.
package export

import (
	"fmt"
	"io"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/ipc"
	arrowmem "github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/ngoclaw/agentwatch/internal/runstate"
)

var schema = arrow.NewSchema([]arrow.Field{
	{Name: "iteration", Type: arrow.PrimitiveTypes.Int64, Nullable: false},
	{Name: "timestamp", Type: arrow.PrimitiveTypes.Int64, Nullable: false},
	{Name: "sample_size", Type: arrow.PrimitiveTypes.Int64, Nullable: false},
	{Name: "action", Type: arrow.BinaryTypes.String, Nullable: false},
	{Name: "reason", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "retry_count", Type: arrow.PrimitiveTypes.Int64, Nullable: false},
}, nil)

// WriteIterations serializes rs's recorded iterations to w as an Arrow IPC
// stream with one record batch.
func WriteIterations(w io.Writer, rs *runstate.RunState) error {
	iters := rs.Iterations()

	pool := arrowmem.NewGoAllocator()

	iterB := array.NewInt64Builder(pool)
	tsB := array.NewInt64Builder(pool)
	sampleB := array.NewInt64Builder(pool)
	actionB := array.NewStringBuilder(pool)
	reasonB := array.NewStringBuilder(pool)
	retryB := array.NewInt64Builder(pool)
	defer iterB.Release()
	defer tsB.Release()
	defer sampleB.Release()
	defer actionB.Release()
	defer reasonB.Release()
	defer retryB.Release()

	for _, it := range iters {
		iterB.Append(int64(it.Number))
		tsB.Append(it.Timestamp.Unix())
		sampleB.Append(int64(it.SampleSize))
		actionB.Append(string(it.Verdict.Action))
		reasonB.Append(it.Verdict.Reason)
		retryB.Append(int64(it.RetryCount))
	}

	iterArr := iterB.NewArray()
	defer iterArr.Release()
	tsArr := tsB.NewArray()
	defer tsArr.Release()
	sampleArr := sampleB.NewArray()
	defer sampleArr.Release()
	actionArr := actionB.NewArray()
	defer actionArr.Release()
	reasonArr := reasonB.NewArray()
	defer reasonArr.Release()
	retryArr := retryB.NewArray()
	defer retryArr.Release()

	record := array.NewRecord(schema, []arrow.Array{iterArr, tsArr, sampleArr, actionArr, reasonArr, retryArr}, int64(len(iters)))
	defer record.Release()

	writer := ipc.NewWriter(w, ipc.WithSchema(schema), ipc.WithAllocator(pool))
	defer writer.Close()

	if err := writer.Write(record); err != nil {
		return fmt.Errorf("export: write record batch: %w", err)
	}
	return nil
}
