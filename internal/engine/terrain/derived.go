package terrain

import (
	"time"

	"go.uber.org/zap"

	"github.com/Faultbox/midgard-terrain/internal/metrics"
	"github.com/Faultbox/midgard-terrain/internal/tasks"
)

// derivedDataRequestType is the request type of derived data tasks on DerivedChannel.
const derivedDataRequestType uint16 = 1

// DerivedDataRequest asks a worker to recompute derived data for a region.
type DerivedDataRequest struct {
	Terrain                *Terrain
	DirtyRect              Rect
	LightmapExtraDirtyRect Rect
	TypeMask               DerivedDataType

	// follow-up requests inherit it, so a synchronous update finishes every kind
	synchronous bool
}

// DerivedDataResponse carries one computed kind back to the owning goroutine,
// along with the kinds still to do.
type DerivedDataResponse struct {
	Terrain           *Terrain
	RemainingTypeMask DerivedDataType

	DeltaUpdateRect    Rect
	NormalUpdateRect   Rect
	LightmapUpdateRect Rect
	NormalMapBox       *PixelBox
	LightMapPixelBox   *PixelBox

	RequestRect       Rect
	LightmapExtraRect Rect
}

// Dirty marks the whole terrain as changed.
func (t *Terrain) Dirty() {
	t.DirtyRect(t.fullRect())
}

// DirtyRect marks the heights in rect as changed. Geometry, derived data,
// neighbours and the composite map are refreshed on the next Update.
func (t *Terrain) DirtyRect(rect Rect) {
	t.dirtyGeometryRect = t.dirtyGeometryRect.Merge(rect)
	t.dirtyGeometryRectForNeighbours = t.dirtyGeometryRectForNeighbours.Merge(rect)
	t.dirtyDerivedDataRect = t.dirtyDerivedDataRect.Merge(rect)
	t.compositeMapDirtyRect = t.compositeMapDirtyRect.Merge(rect)
	t.modified = true
	t.heightDataModified = true
}

// DirtyLightmap marks the whole lightmap for recalculation.
func (t *Terrain) DirtyLightmap() {
	t.DirtyLightmapRect(t.fullRect())
}

// DirtyLightmapRect marks the lightmap over rect (in points) for recalculation.
func (t *Terrain) DirtyLightmapRect(rect Rect) {
	t.dirtyDerivedDataRect = t.dirtyDerivedDataRect.Merge(rect)
	t.modified = true
}

// DirtyCompositeMap marks the whole composite map for an update.
func (t *Terrain) DirtyCompositeMap() {
	t.DirtyCompositeMapRect(t.fullRect())
}

// DirtyCompositeMapRect marks the composite map over rect (in points) for an update.
func (t *Terrain) DirtyCompositeMapRect(rect Rect) {
	t.compositeMapDirtyRect = t.compositeMapDirtyRect.Merge(rect)
	t.modified = true
}

// DirtyGeometryRect returns the region waiting for UpdateGeometry.
func (t *Terrain) DirtyGeometryRect() Rect { return t.dirtyGeometryRect }

// DirtyDerivedDataRect returns the region waiting for UpdateDerivedData.
func (t *Terrain) DirtyDerivedDataRect() Rect { return t.dirtyDerivedDataRect }

// IsDerivedDataUpdateInProgress reports whether a derived data task is in flight.
func (t *Terrain) IsDerivedDataUpdateInProgress() bool { return t.derivedDataUpdateInProgress }

// Update applies pending height changes to the geometry and starts the derived
// data pipeline. With synchronous everything is finished on return.
func (t *Terrain) Update(synchronous bool) {
	t.UpdateGeometry()
	t.UpdateDerivedData(synchronous, DerivedAll)
}

// UpdateGeometry rebuilds vertex data and height deltas for the dirty region
// and passes edge changes to the neighbours.
func (t *Terrain) UpdateGeometry() {
	if !t.prepared {
		return
	}
	if !t.dirtyGeometryRect.IsNull() {
		rect := t.dirtyGeometryRect
		t.dataMu.Lock()
		t.quadTree.UpdateVertexData(true, false, rect, false)
		final := t.calculateHeightDeltas(rect)
		t.finalizeHeightDeltas(final, false)
		t.dataMu.Unlock()
		t.dirtyGeometryRect = Rect{}
	}
	t.NotifyNeighbours()
}

// UpdateDerivedData recalculates the derived data kinds in typeMask for the
// dirty region. While a calculation is in flight the request is folded into a
// single follow-up issued when it completes.
func (t *Terrain) UpdateDerivedData(synchronous bool, typeMask DerivedDataType) {
	if !t.prepared {
		return
	}
	if t.dirtyDerivedDataRect.IsNull() && t.dirtyLightmapFromNeighboursRect.IsNull() {
		// nothing to compute, so the composite map can go now
		t.UpdateCompositeMap()
		return
	}

	t.modified = true
	if t.derivedDataUpdateInProgress {
		t.derivedUpdatePendingMask |= typeMask
		return
	}
	rect, extra := t.dirtyDerivedDataRect, t.dirtyLightmapFromNeighboursRect
	t.dirtyDerivedDataRect = Rect{}
	t.dirtyLightmapFromNeighboursRect = Rect{}
	t.updateDerivedDataImpl(rect, extra, synchronous, typeMask)
}

func (t *Terrain) updateDerivedDataImpl(rect, extra Rect, synchronous bool, typeMask DerivedDataType) {
	t.derivedDataUpdateInProgress = true
	t.derivedUpdatePendingMask = 0

	req := &DerivedDataRequest{
		Terrain:                t,
		DirtyRect:              rect,
		LightmapExtraDirtyRect: extra,
		TypeMask:               typeMask,
		synchronous:            synchronous,
	}
	if !t.opts.NormalMapRequired {
		req.TypeMask &^= DerivedNormals
	}
	if !t.opts.LightMapRequired {
		req.TypeMask &^= DerivedLightmap
	}

	if t.queue == nil {
		// no workers: run the whole chain here
		r := &tasks.Request{Channel: t.channel, Type: derivedDataRequestType, Data: req}
		res := t.HandleRequest(r)
		res.Request = r
		t.HandleResponse(res)
		return
	}
	if _, err := t.queue.AddRequest(t.channel, derivedDataRequestType, req, synchronous); err != nil {
		t.log.Error("derived data request rejected", zap.Error(err))
		t.derivedDataUpdateInProgress = false
	}
}

// CanHandleRequest accepts this terrain's own derived data requests unless aborted.
func (t *Terrain) CanHandleRequest(req *tasks.Request) bool {
	ddr, ok := req.Data.(*DerivedDataRequest)
	return ok && ddr.Terrain == t && !req.Aborted()
}

// HandleRequest computes one derived data kind, in the order deltas, normals,
// lightmap. Doing one kind per task keeps tasks short and easy to abort.
func (t *Terrain) HandleRequest(req *tasks.Request) *tasks.Response {
	ddr := req.Data.(*DerivedDataRequest)
	mask := ddr.TypeMask & DerivedAll
	res := &DerivedDataResponse{
		Terrain:           t,
		RemainingTypeMask: mask,
		RequestRect:       ddr.DirtyRect,
		LightmapExtraRect: ddr.LightmapExtraDirtyRect,
	}

	switch {
	case mask&DerivedDelta != 0:
		res.DeltaUpdateRect = t.CalculateHeightDeltas(ddr.DirtyRect)
		res.RemainingTypeMask &^= DerivedDelta
	case mask&DerivedNormals != 0:
		res.NormalMapBox, res.NormalUpdateRect = t.CalculateNormals(ddr.DirtyRect)
		res.RemainingTypeMask &^= DerivedNormals
	case mask&DerivedLightmap != 0:
		res.LightMapPixelBox, res.LightmapUpdateRect = t.CalculateLightMap(ddr.DirtyRect, ddr.LightmapExtraDirtyRect)
		res.RemainingTypeMask &^= DerivedLightmap
	}
	return tasks.NewResponse(req, res)
}

// CanHandleResponse accepts responses to this terrain's own derived data requests.
func (t *Terrain) CanHandleResponse(res *tasks.Response) bool {
	ddr, ok := res.Request.Data.(*DerivedDataRequest)
	return ok && ddr.Terrain == t
}

// HandleResponse publishes a finished computation and chains the next one.
func (t *Terrain) HandleResponse(res *tasks.Response) {
	ddr := res.Request.Data.(*DerivedDataRequest)
	t.derivedDataUpdateInProgress = false

	var remaining DerivedDataType
	if !res.Succeeded {
		t.log.Error("derived data update failed",
			zap.Uint8("type_mask", uint8(ddr.TypeMask)),
			zap.Stringer("rect", ddr.DirtyRect),
			zap.Error(res.Err))
	} else {
		ddres, ok := res.Data.(*DerivedDataResponse)
		if !ok || ddres.Terrain != t {
			return
		}
		remaining = ddres.RemainingTypeMask
		t.finalizeDerived(ddr, ddres)
	}

	var newRect, newExtra Rect
	if remaining != 0 {
		newRect = newRect.Merge(ddr.DirtyRect)
		newExtra = newExtra.Merge(ddr.LightmapExtraDirtyRect)
	}
	if t.derivedUpdatePendingMask != 0 {
		newRect = newRect.Merge(t.dirtyDerivedDataRect)
		t.dirtyDerivedDataRect = Rect{}
		newExtra = newExtra.Merge(t.dirtyLightmapFromNeighboursRect)
		t.dirtyLightmapFromNeighboursRect = Rect{}
	}

	if newMask := remaining | t.derivedUpdatePendingMask; newMask != 0 {
		t.updateDerivedDataImpl(newRect, newExtra, ddr.synchronous, newMask)
		return
	}
	if t.opts.CompositeMapRequired {
		t.UpdateCompositeMap()
	}
}

// finalizeDerived applies whichever kind the response completed.
func (t *Terrain) finalizeDerived(ddr *DerivedDataRequest, ddres *DerivedDataResponse) {
	done := ddr.TypeMask &^ ddres.RemainingTypeMask

	if done&DerivedDelta != 0 {
		t.FinalizeHeightDeltas(ddres.DeltaUpdateRect, false)
		metrics.DerivedUpdated("deltas")
		return
	}
	if done&DerivedNormals != 0 {
		if !t.FinalizeNormals(ddres.NormalUpdateRect, ddres.NormalMapBox) {
			t.log.Debug("normal map disabled, result discarded")
			metrics.DerivedDiscarded("normals")
			return
		}
		t.compositeMapDirtyRect = t.compositeMapDirtyRect.Merge(ddr.DirtyRect)
		metrics.DerivedUpdated("normals")
		return
	}
	if done&DerivedLightmap != 0 {
		if !t.FinalizeLightMap(ddres.LightmapUpdateRect, ddres.LightMapPixelBox) {
			t.log.Debug("lightmap disabled, result discarded")
			metrics.DerivedDiscarded("lightmap")
			return
		}
		t.compositeMapDirtyRect = t.compositeMapDirtyRect.Merge(ddr.DirtyRect)
		t.compositeMapDirtyRectLightmapUpdate = true
		metrics.DerivedUpdated("lightmap")
	}
}

// WaitForDerivedProcesses blocks until no derived data task is in flight,
// pumping the queue's responses meanwhile.
func (t *Terrain) WaitForDerivedProcesses() {
	for t.derivedDataUpdateInProgress {
		if t.queue == nil {
			t.derivedDataUpdateInProgress = false
			return
		}
		t.queue.ProcessResponses()
		if !t.derivedDataUpdateInProgress {
			return
		}
		if t.queue.Closed() {
			t.log.Warn("work queue closed with derived data in flight")
			t.derivedDataUpdateInProgress = false
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// SetNormalMapRequired enables or drops the normal map. Enabling schedules a
// full recalculation on the next update.
func (t *Terrain) SetNormalMapRequired(required bool) {
	if t.opts.NormalMapRequired == required {
		return
	}
	t.opts.NormalMapRequired = required
	if !required {
		t.normalMap = nil
		return
	}
	if t.prepared {
		t.dirtyDerivedDataRect = t.dirtyDerivedDataRect.Merge(t.fullRect())
	}
}

// SetLightMapRequired enables or drops the lightmap. Enabling schedules a full
// bake on the next update.
func (t *Terrain) SetLightMapRequired(required bool) {
	if t.opts.LightMapRequired == required {
		return
	}
	t.opts.LightMapRequired = required
	if !required {
		t.lightMap = nil
		return
	}
	if t.prepared {
		t.DirtyLightmap()
	}
}

// SetCompositeMapRequired enables or drops the composite map.
func (t *Terrain) SetCompositeMapRequired(required bool) {
	if t.opts.CompositeMapRequired == required {
		return
	}
	t.opts.CompositeMapRequired = required
	if !required {
		t.compositeMap = nil
		return
	}
	if t.prepared {
		t.DirtyCompositeMap()
	}
}
