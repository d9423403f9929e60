// Package filter compiles CEL expressions into fmq.Filter values for
// selecting queue messages by metadata or payload content.
//
//	f, err := filter.Compile(`msg_type == 2 && json.level == "error"`)
//	res, err := reader.ReadNext(ctx, fmq.ReadOptions{Filter: f})
package filter
