package render

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"

	"github.com/ironsmile/vulkan-render-go/gpu"
)

// lease marks the frame slots whose submitted work references a resource.
type lease struct {
	slots uint32
}

func (l *lease) acquire(slot int)     { l.slots |= 1 << uint(slot) }
func (l *lease) releaseSlot(slot int) { l.slots &^= 1 << uint(slot) }
func (l *lease) leased() bool         { return l.slots != 0 }

// leasable is a resource that can be referenced by in-flight frames.
type leasable interface {
	leaseState() *lease
}

func anyLeased(res []leasable) bool {
	for _, r := range res {
		if r.leaseState().leased() {
			return true
		}
	}
	return false
}

// SlotState is the position of a frame slot in its cycle.
type SlotState int

const (
	SlotIdle SlotState = iota
	SlotAcquiring
	SlotRecording
	SlotSubmitted
	SlotPresenting
)

func (s SlotState) String() string {
	switch s {
	case SlotIdle:
		return "idle"
	case SlotAcquiring:
		return "acquiring"
	case SlotRecording:
		return "recording"
	case SlotSubmitted:
		return "submitted"
	case SlotPresenting:
		return "presenting"
	}
	return fmt.Sprintf("SlotState(%d)", int(s))
}

// FrameSlot holds the synchronization objects, command buffer and uniform
// buffer of one frame in flight.
type FrameSlot struct {
	index          int
	imageAvailable gpu.Semaphore
	renderFinished gpu.Semaphore
	inFlight       gpu.Fence
	cmd            gpu.CommandBuffer
	uniform        *Buffer

	state   SlotState
	pending bool
	leases  []leasable
}

// Uniform returns the slot's persistently mapped uniform buffer.
func (s *FrameSlot) Uniform() *Buffer {
	return s.uniform
}

// FrameToken is handed out by Begin and consumed by Submit.
type FrameToken struct {
	Slot       int
	ImageIndex uint32
	Extent     gpu.Extent2D

	slot *FrameSlot
}

type retirement struct {
	resources []leasable
	destroy   func()
}

// FrameStats are the counters kept by the scheduler.
type FrameStats struct {
	FramesSubmitted int
	FencesObserved  int
	Outstanding     int
	MaxOutstanding  int
	Rebuilds        int
}

// FrameScheduler runs the per-frame protocol over a fixed ring of frame
// slots: wait for the slot's fence, acquire an image, record, submit and
// present, then move on to the next slot whatever the present outcome.
type FrameScheduler struct {
	dev        gpu.Device
	queue      gpu.Queue
	swapchain  *SwapchainManager
	recorder   *CommandRecorder
	pool       gpu.CommandPool
	validation bool
	desired    gpu.Extent2D

	slots   []*FrameSlot
	current int
	lost    bool
	rebuild bool
	retired []retirement

	stats FrameStats
}

// NewFrameScheduler creates frames slots, each with a uniform buffer of
// uniformSize bytes. Everything created is registered under owner.
func NewFrameScheduler(
	dev gpu.Device,
	swapchain *SwapchainManager,
	recorder *CommandRecorder,
	factory *ResourceFactory,
	owner *ownerNode,
	frames int,
	uniformSize uint64,
	desired gpu.Extent2D,
	validation bool,
) (*FrameScheduler, error) {
	if frames < 1 || frames > MaxFramesInFlight {
		return nil, configErrorf("frames in flight must be between 1 and %d, got %d", MaxFramesInFlight, frames)
	}

	s := &FrameScheduler{
		dev:        dev,
		queue:      dev.Queue(gpu.QueueGraphics),
		swapchain:  swapchain,
		recorder:   recorder,
		validation: validation,
		desired:    desired,
	}

	pool, err := dev.CreateCommandPool(gpu.QueueGraphics, true)
	if err != nil {
		return nil, classify(err, "create command pool")
	}
	s.pool = pool
	owner.own("command pool", func() { dev.DestroyCommandPool(pool) })

	cbs, err := dev.AllocateCommandBuffers(pool, frames)
	if err != nil {
		return nil, classify(err, "allocate command buffers")
	}

	for i := range frames {
		slot := &FrameSlot{index: i, cmd: cbs[i]}

		if slot.imageAvailable, err = dev.CreateSemaphore(); err != nil {
			return nil, classify(err, "create image available semaphore")
		}
		owner.own("image available semaphore", destroySemaphore(dev, slot.imageAvailable))

		if slot.renderFinished, err = dev.CreateSemaphore(); err != nil {
			return nil, classify(err, "create render finished semaphore")
		}
		owner.own("render finished semaphore", destroySemaphore(dev, slot.renderFinished))

		if slot.inFlight, err = dev.CreateFence(true); err != nil {
			return nil, classify(err, "create in flight fence")
		}
		fence := slot.inFlight
		owner.own("in flight fence", func() { dev.DestroyFence(fence) })

		if slot.uniform, err = factory.CreateUniformBuffer(uniformSize); err != nil {
			return nil, errors.Wrapf(err, "create uniform buffer of frame slot %d", i)
		}
		uniform := slot.uniform
		owner.own("frame uniform buffer", func() { _ = factory.DestroyBuffer(uniform) })

		s.slots = append(s.slots, slot)
	}

	return s, nil
}

func destroySemaphore(dev gpu.Device, sem gpu.Semaphore) func() {
	return func() { dev.DestroySemaphore(sem) }
}

// Slots returns the frame slots in ring order.
func (s *FrameScheduler) Slots() []*FrameSlot {
	return s.slots
}

// Stats returns the scheduler counters.
func (s *FrameScheduler) Stats() FrameStats {
	st := s.stats
	st.Rebuilds = s.swapchain.Rebuilds()
	return st
}

func (s *FrameScheduler) fail(err error) error {
	if errors.Is(err, ErrDeviceLost) {
		s.lost = true
	}
	return err
}

// observe waits for the slot's fence and, once it is seen signaled, releases
// the slot's leases and destroys retired resources no longer in use.
func (s *FrameScheduler) observe(slot *FrameSlot) error {
	if !slot.pending {
		return nil
	}
	if err := s.dev.WaitForFences([]gpu.Fence{slot.inFlight}, gpu.NoTimeout); err != nil {
		return s.fail(classify(err, "wait for in flight fence"))
	}

	s.stats.FencesObserved++
	s.release(slot)
	return nil
}

// release drops the slot's leases once its submission is known to be done.
func (s *FrameScheduler) release(slot *FrameSlot) {
	if slot.pending {
		slot.pending = false
		s.stats.Outstanding--
	}
	for _, r := range slot.leases {
		r.leaseState().releaseSlot(slot.index)
	}
	slot.leases = slot.leases[:0]

	s.collect()
}

// collect destroys retired resources that no slot leases any more.
func (s *FrameScheduler) collect() {
	kept := s.retired[:0]
	for _, r := range s.retired {
		if anyLeased(r.resources) {
			kept = append(kept, r)
			continue
		}
		r.destroy()
	}
	clear(s.retired[len(kept):])
	s.retired = kept
}

// Retire calls destroy once none of resources is referenced by a frame in
// flight. It runs immediately when they are not.
func (s *FrameScheduler) Retire(resources []leasable, destroy func()) {
	if !anyLeased(resources) {
		destroy()
		return
	}
	s.retired = append(s.retired, retirement{resources: resources, destroy: destroy})
}

// Drain observes the fence of every slot and destroys all retired
// resources. The device must be idle. On a lost device nothing executes any
// more and leases are dropped without waiting.
func (s *FrameScheduler) Drain() error {
	var errs error
	for _, slot := range s.slots {
		if err := s.observe(slot); err != nil {
			errs = errors.CombineErrors(errs, err)
			s.release(slot)
		}
	}
	return errs
}

// Begin waits until the current slot's previous submission has finished and
// acquires the next swapchain image. An out of date swapchain is rebuilt and
// the acquire retried once.
func (s *FrameScheduler) Begin() (*FrameToken, error) {
	if s.lost {
		return nil, errors.Mark(errors.New("frame begun on a lost device"), ErrDeviceLost)
	}

	slot := s.slots[s.current]
	if slot.state != SlotIdle {
		return nil, syncViolationf("frame slot %d begun while %s", slot.index, slot.state)
	}
	slot.state = SlotAcquiring

	if err := s.observe(slot); err != nil {
		slot.state = SlotIdle
		return nil, err
	}

	index, err := s.acquire(slot)
	if err != nil {
		slot.state = SlotIdle
		return nil, err
	}

	slot.state = SlotRecording
	return &FrameToken{
		Slot:       slot.index,
		ImageIndex: index,
		Extent:     s.swapchain.Extent(),
		slot:       slot,
	}, nil
}

func (s *FrameScheduler) acquire(slot *FrameSlot) (uint32, error) {
	if !s.swapchain.Ready() {
		if err := s.rebuildSwapchain(); err != nil {
			return 0, err
		}
	}
	for attempt := 0; ; attempt++ {
		index, err := s.swapchain.AcquireNext(gpu.NoTimeout, slot.imageAvailable)
		switch {
		case err == nil:
			return index, nil
		case errors.Is(err, ErrSwapchainSuboptimal):
			Logger().Warn("swapchain suboptimal, rebuilding after present")
			s.rebuild = true
			return index, nil
		case errors.Is(err, ErrSwapchainOutOfDate) && attempt == 0:
			if err := s.rebuildSwapchain(); err != nil {
				return 0, err
			}
		default:
			return 0, s.fail(err)
		}
	}
}

func (s *FrameScheduler) rebuildSwapchain() error {
	s.rebuild = false
	if err := s.swapchain.Rebuild(s.desired); err != nil {
		return s.fail(err)
	}
	return nil
}

// Resize sets the swapchain extent used when the surface leaves the size to
// the application. The swapchain is rebuilt after the next present.
func (s *FrameScheduler) Resize(extent gpu.Extent2D) {
	if extent == s.desired {
		return
	}
	s.desired = extent
	s.rebuild = true
}

// Recording reports whether token belongs to the frame being recorded.
func (s *FrameScheduler) Recording(token *FrameToken) bool {
	return token != nil && token.slot == s.slots[s.current] && token.slot.state == SlotRecording
}

// Submit records draws for the frame of token, submits them and presents
// the image. The scheduler moves on to the next slot even when presenting
// fails; an out of date or suboptimal swapchain is rebuilt.
func (s *FrameScheduler) Submit(token *FrameToken, pipeline *Pipeline, draws []Draw) error {
	if s.lost {
		return errors.Mark(errors.New("frame submitted on a lost device"), ErrDeviceLost)
	}
	if !s.Recording(token) {
		return syncViolationf("frame token does not belong to the frame being recorded")
	}
	slot := token.slot
	if pipeline == nil {
		return s.abandon(slot, configErrorf("frame submitted without a pipeline"))
	}

	target := Target{
		RenderPass:  s.swapchain.renderPass,
		Framebuffer: s.swapchain.Framebuffer(token.ImageIndex),
		Extent:      token.Extent,
	}
	if err := s.recorder.Record(slot.cmd, slot.inFlight, target, pipeline, draws); err != nil {
		return s.abandon(slot, err)
	}

	if err := s.dev.ResetFences([]gpu.Fence{slot.inFlight}); err != nil {
		return s.abandon(slot, classify(err, "reset in flight fence"))
	}

	submit := []gpu.SubmitInfo{{
		WaitSemaphores:   []gpu.Semaphore{slot.imageAvailable},
		WaitStages:       []gpu.PipelineStage{gpu.StageColorAttachmentOutput},
		CommandBuffers:   []gpu.CommandBuffer{slot.cmd},
		SignalSemaphores: []gpu.Semaphore{slot.renderFinished},
	}}
	if err := s.dev.QueueSubmit(s.queue, submit, slot.inFlight); err != nil {
		return s.abandon(slot, classify(err, "submit draw command buffer"))
	}

	s.submitted(slot, true)
	s.lease(slot, draws)

	slot.state = SlotPresenting
	err := s.swapchain.Present(token.ImageIndex, []gpu.Semaphore{slot.renderFinished})
	slot.state = SlotIdle
	s.current = (s.current + 1) % len(s.slots)

	switch {
	case err == nil, errors.Is(err, ErrSwapchainOutOfDate), errors.Is(err, ErrSwapchainSuboptimal):
		if err != nil || s.rebuild {
			return s.rebuildSwapchain()
		}
		return nil
	default:
		return s.fail(err)
	}
}

// submitted accounts for a submission signaling the slot's fence. Only
// frames with draw work count as submitted frames.
func (s *FrameScheduler) submitted(slot *FrameSlot, frame bool) {
	slot.state = SlotSubmitted
	slot.pending = true
	if frame {
		s.stats.FramesSubmitted++
	}
	s.stats.Outstanding++
	s.stats.MaxOutstanding = max(s.stats.MaxOutstanding, s.stats.Outstanding)
}

func (s *FrameScheduler) lease(slot *FrameSlot, draws []Draw) {
	add := func(r leasable) {
		l := r.leaseState()
		if l.slots&(1<<uint(slot.index)) != 0 {
			return
		}
		l.acquire(slot.index)
		slot.leases = append(slot.leases, r)
	}

	for _, d := range draws {
		add(d.Mesh.Vertices)
		add(d.Mesh.Indices)
		for _, set := range d.Sets {
			add(set)
			for _, r := range set.refs {
				add(r)
			}
		}
	}
}

// Cancel gives up on the frame of token without drawing it. cause is
// returned, combined with any error hit while handing the acquired image
// back.
func (s *FrameScheduler) Cancel(token *FrameToken, cause error) error {
	if !s.Recording(token) {
		return errors.CombineErrors(cause, syncViolationf("frame token does not belong to the frame being recorded"))
	}
	return s.abandon(token.slot, cause)
}

// abandon gives up on the frame in slot after its image was acquired. The
// acquire signal is consumed by an empty batch which also signals the fence,
// and the swapchain is rebuilt to take back the acquired image.
func (s *FrameScheduler) abandon(slot *FrameSlot, cause error) error {
	slot.state = SlotIdle
	s.current = (s.current + 1) % len(s.slots)

	cause = s.fail(cause)
	if s.lost {
		return cause
	}

	Logger().Warn("frame abandoned", "slot", slot.index, "err", cause)

	if err := s.dev.ResetFences([]gpu.Fence{slot.inFlight}); err != nil {
		return errors.CombineErrors(cause, s.fail(classify(err, "reset in flight fence")))
	}
	release := []gpu.SubmitInfo{{
		WaitSemaphores: []gpu.Semaphore{slot.imageAvailable},
		WaitStages:     []gpu.PipelineStage{gpu.StageColorAttachmentOutput},
	}}
	if err := s.dev.QueueSubmit(s.queue, release, slot.inFlight); err != nil {
		return errors.CombineErrors(cause, s.fail(classify(err, "submit empty batch")))
	}
	s.submitted(slot, false)
	slot.state = SlotIdle

	if err := s.rebuildSwapchain(); err != nil {
		return errors.CombineErrors(cause, err)
	}
	return cause
}

// WriteStats writes the scheduler counters as a JSON object property of obj.
func (s *FrameScheduler) WriteStats(obj *jwriter.ObjectState) {
	st := s.Stats()

	frames := obj.Name("frames").Object()
	defer frames.End()

	frames.Name("slots").Int(len(s.slots))
	frames.Name("submitted").Int(st.FramesSubmitted)
	frames.Name("fencesObserved").Int(st.FencesObserved)
	frames.Name("outstanding").Int(st.Outstanding)
	frames.Name("maxOutstanding").Int(st.MaxOutstanding)
	frames.Name("swapchainRebuilds").Int(st.Rebuilds)
}
