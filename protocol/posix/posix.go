// Package posix implements the one piece of managarm's POSIX server
// protocol named concretely by this module's scope: retrieving a
// process's bootstrap data (its posix and mbus lanes). The original
// fetches this via a raw supercall issued once at process startup
// outside any queue; here it is expressed as an ordinary action
// submission against a lane, consistent with this module's async
// model rather than a syscall escape hatch the Kernel interface has no
// room for.
package posix

import (
	"encoding/binary"
	"fmt"

	"github.com/managarm/hel"
	"github.com/managarm/hel/internal/uapi"
)

// ProcessData is the pair of lanes a managarm process receives from
// its POSIX server at startup.
type ProcessData struct {
	PosixLane hel.Handle
	MbusLane  hel.Handle
}

const getProcessDataOpcode = 1

func encodeGetProcessDataRequest() []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, getProcessDataOpcode)
	return buf
}

// GetProcessData requests a process's bootstrap lanes over lane,
// resolving once both have been pulled across the offered
// conversation.
func GetProcessData(e *hel.Executor, lane hel.Handle) hel.Future[ProcessData] {
	action := hel.Offer{
		WantLane: true,
		Action:   hel.Actions(hel.SendBuffer{Data: encodeGetProcessDataRequest()}, hel.PullDescriptor{}, hel.PullDescriptor{}),
	}
	inner := hel.SubmitAsync(e, lane, action)

	return hel.FutureFunc[ProcessData](func(w *hel.Waker) hel.PollResult[ProcessData] {
		res := inner.Poll(w)
		if !res.Ready {
			return hel.PollResult[ProcessData]{Ready: false}
		}
		if res.Err != nil {
			return hel.PollResult[ProcessData]{Ready: true, Err: res.Err}
		}
		pd, err := parseProcessData(res.Value)
		return hel.PollResult[ProcessData]{Ready: true, Value: pd, Err: err}
	})
}

func parseProcessData(raw any) (ProcessData, error) {
	pair, ok := raw.([2]any)
	if !ok {
		return ProcessData{}, fmt.Errorf("posix: unexpected offer result shape %T", raw)
	}
	inner, ok := pair[1].([]any)
	if !ok || len(inner) != 3 {
		return ProcessData{}, fmt.Errorf("posix: unexpected offer chain shape %T", pair[1])
	}
	posixLane, ok := inner[1].(uapi.HandleResult)
	if !ok {
		return ProcessData{}, fmt.Errorf("posix: unexpected posix lane result shape %T", inner[1])
	}
	mbusLane, ok := inner[2].(uapi.HandleResult)
	if !ok {
		return ProcessData{}, fmt.Errorf("posix: unexpected mbus lane result shape %T", inner[2])
	}
	return ProcessData{
		PosixLane: hel.HandleFromRaw(posixLane.Handle),
		MbusLane:  hel.HandleFromRaw(mbusLane.Handle),
	}, nil
}
