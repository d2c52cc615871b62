// Package example holds illustrative plugins exercising the registry:
// FlowLogger mirrors the teacher's gnet/tee.go habit of logging a one-line
// summary per traffic unit (there, per parsed HTTP transaction; here, per
// flow lifecycle event), and ByteCounter accumulates per-flow transfer
// totals the way a bandwidth-accounting plugin would.
package example

import (
	"fmt"

	"github.com/mel2oo/pcapcore/flowtable"
	"github.com/mel2oo/pcapcore/internal/logging"
	"github.com/mel2oo/pcapcore/plugin"
)

// FlowLogger logs a line when a flow is created and again when it's torn
// down.
type FlowLogger struct {
	plugin.Base
}

func (FlowLogger) Name() string { return "flow-logger" }

func (FlowLogger) Capabilities() plugin.Type {
	return plugin.TypeFlowCreated | plugin.TypeFlowDestroyed
}

func (FlowLogger) FlowCreated(flow *flowtable.Flow) {
	logging.Debugf("flow %s opened: %s", flow.FlowID, describe(flow.FiveTuple))
}

func (FlowLogger) FlowDestroyed(flow *flowtable.Flow) {
	logging.Debugf("flow %s closed: %s", flow.FlowID, describe(flow.FiveTuple))
}

func describe(t flowtable.FiveTuple) string {
	return fmt.Sprintf("%s:%d -> %s:%d (proto %d)", t.SrcIP, t.SrcPort, t.DstIP, t.DstPort, t.L4Proto)
}
