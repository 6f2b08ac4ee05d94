package grpc

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/jeeves-cluster-organization/procsched/coreengine/kernel"
	"github.com/jeeves-cluster-organization/procsched/coreengine/typeutil"
)

// =============================================================================
// Process Snapshots
// =============================================================================

func processInfoToMap(info kernel.ProcessInfo) map[string]any {
	return map[string]any{
		"name":                    info.Name,
		"pid":                     info.PID,
		"parent_pid":              info.ParentPID,
		"state":                   string(info.State),
		"level":                   int(info.Level),
		"arrival_time":            info.ArrivalTime,
		"exec_count":              info.ExecCount,
		"waiting_ticks":           info.WaitingTicks,
		"last_dispatch":           info.LastDispatch,
		"weight":                  info.Weight,
		"response_ratio":          info.ResponseRatio,
		"modified_response_ratio": info.ModifiedResponseRatio,
		"killed":                  info.Killed,
	}
}

func processInfoFromMap(m map[string]any) kernel.ProcessInfo {
	return kernel.ProcessInfo{
		Name:                  typeutil.SafeStringDefault(m["name"], ""),
		PID:                   typeutil.SafeIntDefault(m["pid"], 0),
		ParentPID:             typeutil.SafeIntDefault(m["parent_pid"], 0),
		State:                 kernel.ProcessState(typeutil.SafeStringDefault(m["state"], "")),
		Level:                 kernel.QueueLevel(typeutil.SafeIntDefault(m["level"], 0)),
		ArrivalTime:           typeutil.SafeIntDefault(m["arrival_time"], 0),
		ExecCount:             typeutil.SafeIntDefault(m["exec_count"], 0),
		WaitingTicks:          typeutil.SafeIntDefault(m["waiting_ticks"], 0),
		LastDispatch:          typeutil.SafeIntDefault(m["last_dispatch"], 0),
		Weight:                typeutil.SafeIntDefault(m["weight"], 0),
		ResponseRatio:         typeutil.SafeIntDefault(m["response_ratio"], 0),
		ModifiedResponseRatio: typeutil.SafeIntDefault(m["modified_response_ratio"], 0),
		Killed:                typeutil.SafeBoolDefault(m["killed"], false),
	}
}

func processInfoToStruct(info kernel.ProcessInfo) (*structpb.Struct, error) {
	return structpb.NewStruct(processInfoToMap(info))
}

func processListToStruct(infos []kernel.ProcessInfo) (*structpb.Struct, error) {
	list := make([]any, len(infos))
	for i, info := range infos {
		list[i] = processInfoToMap(info)
	}
	return structpb.NewStruct(map[string]any{"processes": list})
}

func processListFromStruct(s *structpb.Struct) ([]kernel.ProcessInfo, error) {
	items, ok := typeutil.SafeSlice(s.AsMap()["processes"])
	if !ok {
		return nil, fmt.Errorf("malformed process list")
	}
	infos := make([]kernel.ProcessInfo, 0, len(items))
	for i, item := range items {
		m, ok := typeutil.SafeMapStringAny(item)
		if !ok {
			return nil, fmt.Errorf("malformed process entry %d", i)
		}
		infos = append(infos, processInfoFromMap(m))
	}
	return infos, nil
}

// =============================================================================
// Events
// =============================================================================

func eventToStruct(e *kernel.KernelEvent) (*structpb.Struct, error) {
	m := map[string]any{
		"id":         e.ID,
		"event_type": string(e.EventType),
		"timestamp":  e.Timestamp.Format(time.RFC3339Nano),
		"tick":       e.Tick,
		"pid":        e.PID,
	}
	if len(e.Data) > 0 {
		m["data"] = e.Data
	}
	return structpb.NewStruct(m)
}

func eventFromStruct(s *structpb.Struct) (*kernel.KernelEvent, error) {
	m := s.AsMap()
	ts, err := time.Parse(time.RFC3339Nano, typeutil.SafeStringDefault(m["timestamp"], ""))
	if err != nil {
		return nil, fmt.Errorf("malformed event timestamp: %w", err)
	}
	return &kernel.KernelEvent{
		ID:        typeutil.SafeStringDefault(m["id"], ""),
		EventType: kernel.KernelEventType(typeutil.SafeStringDefault(m["event_type"], "")),
		Timestamp: ts,
		Tick:      typeutil.SafeIntDefault(m["tick"], 0),
		PID:       typeutil.SafeIntDefault(m["pid"], 0),
		Data:      typeutil.SafeMapStringAnyDefault(m["data"], nil),
	}, nil
}
