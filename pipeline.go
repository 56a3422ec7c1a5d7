package qsvm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/theapemachine/errnie"
	"gonum.org/v1/gonum/mat"
)

// deviceBreaker names the dispatcher breaker shared by every kernel electron.
const deviceBreaker = "device"

// PipelineResult is everything a run produced.
type PipelineResult struct {
	DispatchID  string
	Train       *Dataset
	Test        *Dataset
	TrainGram   *mat.Dense
	TestGram    *mat.Dense
	Predictions []int
	Confusion   *ConfusionMatrix
	Support     int
	Evaluations int
	Elapsed     time.Duration
}

type splitResult struct {
	train *Dataset
	test  *Dataset
}

/*
Pipeline trains and evaluates the kernel classifier as a single lattice:

	load → split → train/i/j, test/i/j → gram/train, gram/test → fit → predict → confusion

Every kernel entry is its own electron, so the dispatcher runs them in
parallel and retries them individually against the device.
*/
type Pipeline struct {
	cfg        *Config
	kernel     *Kernel
	dispatcher *Dispatcher
}

// NewPipeline builds the device, kernel and dispatcher described by cfg.
// The dispatcher admits electrons only while back pressure, the resource
// governor and, for remote devices, the device regulators allow it.
func NewPipeline(ctx context.Context, cfg *Config) (*Pipeline, error) {
	if cfg == nil {
		cfg = NewConfig()
	}

	device, err := NewDevice(cfg.Device)
	if err != nil {
		return nil, err
	}

	embedding, err := NewEmbedding(cfg.Device, len(cfg.Dataset.Features))
	if err != nil {
		return nil, err
	}

	regulators := []Regulator{
		NewBackPressure(cfg.Dispatcher.MaxQueue, cfg.Dispatcher.ElectronTimeout/2),
		NewResourceGovernor(cfg.Dispatcher.MaxHeap, cfg.Dispatcher.MaxGoroutines, time.Second),
	}
	switch d := device.(type) {
	case *DeviceBalancer:
		regulators = append(regulators, d)
		regulators = append(regulators, d.Regulators()...)
	case *RemoteDevice:
		regulators = append(regulators, d.Breaker())
	}

	errnie.Info("NewPipeline - device %s, embedding %s, shots %d", device.Name(), cfg.Device.Embedding, cfg.Device.Shots)

	return &Pipeline{
		cfg:        cfg,
		kernel:     NewKernel(embedding, device, cfg.Device.Shots),
		dispatcher: NewDispatcher(ctx, cfg, regulators...),
	}, nil
}

func (p *Pipeline) Kernel() *Kernel {
	return p.kernel
}

func (p *Pipeline) Dispatcher() *Dispatcher {
	return p.dispatcher
}

func (p *Pipeline) Close() {
	p.dispatcher.Close()
}

// Lattice returns the run as a task graph. Its shape depends only on the
// split sizes, so it is known before any data is loaded.
func (p *Pipeline) Lattice() *Lattice {
	n1, n2 := p.cfg.Split.TrainSize, p.cfg.Split.TestSize
	l := NewLattice("qsvm")

	l.MustAdd("load", p.load)
	l.MustAdd("split", p.split, WithDependencies("load"))

	trainIDs := make([]string, 0, n1*n1)
	for i := 0; i < n1; i++ {
		for j := 0; j < n1; j++ {
			id := fmt.Sprintf("train/%d/%d", i, j)
			trainIDs = append(trainIDs, id)
			l.MustAdd(id, p.entry(i, j, false), p.kernelOptions()...)
		}
	}

	testIDs := make([]string, 0, n2*n1)
	for i := 0; i < n2; i++ {
		for j := 0; j < n1; j++ {
			id := fmt.Sprintf("test/%d/%d", i, j)
			testIDs = append(testIDs, id)
			l.MustAdd(id, p.entry(i, j, true), p.kernelOptions()...)
		}
	}

	l.MustAdd("gram/train", gather(trainIDs, n1, n1), WithDependencies(trainIDs...))
	l.MustAdd("gram/test", gather(testIDs, n2, n1), WithDependencies(testIDs...))
	l.MustAdd("fit", p.fit, WithDependencies("split", "gram/train"))
	l.MustAdd("predict", predict, WithDependencies("fit", "gram/test"))
	l.MustAdd("confusion", confusion, WithDependencies("split", "predict"))

	return l
}

// Run dispatches the lattice and waits for it.
func (p *Pipeline) Run(ctx context.Context) (*PipelineResult, error) {
	start := time.Now()
	l := p.Lattice()

	id, err := p.dispatcher.Dispatch(ctx, l)
	if err != nil {
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.progress(id, l.Len())
	}()

	lr, err := p.dispatcher.Result(ctx, id)
	<-done
	if err != nil {
		return nil, err
	}

	return p.collect(lr, time.Since(start))
}

func (p *Pipeline) progress(id string, total int) {
	completed := 0
	for ev := range p.dispatcher.Subscribe(id) {
		switch ev.Status {
		case EventCompleted:
			completed++
			logger.Debug("electron completed", "electron", ev.ElectronID, "progress", fmt.Sprintf("%d/%d", completed, total))
		case EventFailed:
			logger.Warn("electron failed", "electron", ev.ElectronID, "err", ev.Error)
		}
	}
}

func (p *Pipeline) collect(lr *LatticeResult, elapsed time.Duration) (*PipelineResult, error) {
	values := make(map[string]any, 6)
	for _, id := range []string{"split", "gram/train", "gram/test", "fit", "predict", "confusion"} {
		v, err := lr.Value(id)
		if err != nil {
			return nil, err
		}
		values[id] = v
	}

	s := values["split"].(*splitResult)
	n1, n2 := s.train.Len(), s.test.Len()

	res := &PipelineResult{
		DispatchID:  lr.DispatchID,
		Train:       s.train,
		Test:        s.test,
		TrainGram:   values["gram/train"].(*mat.Dense),
		TestGram:    values["gram/test"].(*mat.Dense),
		Predictions: values["predict"].([]int),
		Confusion:   values["confusion"].(*ConfusionMatrix),
		Support:     values["fit"].(*SVC).NumSupport(),
		Evaluations: n1*n1 + n2*n1,
		Elapsed:     elapsed,
	}

	logger.Info("pipeline finished",
		"dispatch", res.DispatchID,
		"accuracy", res.Confusion.Accuracy(),
		"evaluations", res.Evaluations,
		"elapsed", elapsed,
	)

	return res, nil
}

func (p *Pipeline) kernelOptions() []ElectronOption {
	return []ElectronOption{
		WithDependencies("split"),
		WithRetry(p.cfg.Retry.MaxAttempts, &ExponentialBackoff{Initial: p.cfg.Retry.Initial}),
		WithRetryFilter(retryable),
		WithBreaker(deviceBreaker, p.cfg.Breaker.MaxFailures, p.cfg.Breaker.ResetTimeout),
	}
}

// retryable rejects errors that another attempt cannot fix.
func retryable(err error) bool {
	return !errors.Is(err, ErrInvalidCircuit) &&
		!errors.Is(err, ErrFeatureCount) &&
		!errors.Is(err, ErrDeviceJobFailed) &&
		!errors.Is(err, ErrBreakerOpen)
}

func (p *Pipeline) load(ctx context.Context, _ map[string]any) (any, error) {
	ds, err := OpenWine(p.cfg.Dataset.Path)
	if err != nil {
		return nil, err
	}

	ds, err = ds.Select(p.cfg.Dataset.Features, p.cfg.Dataset.Classes)
	if err != nil {
		return nil, err
	}

	logger.Debug("dataset loaded", "samples", ds.Len(), "features", ds.FeatureNames, "classes", ds.Classes)
	return Scale(ds, p.cfg.Dataset.ScaleLow, p.cfg.Dataset.ScaleHigh), nil
}

func (p *Pipeline) split(ctx context.Context, deps map[string]any) (any, error) {
	train, test, err := Split(deps["load"].(*Dataset), p.cfg.Split)
	if err != nil {
		return nil, err
	}
	return &splitResult{train: train, test: test}, nil
}

// entry evaluates one kernel cell: training row i against training column
// j, or test row i when test is set.
func (p *Pipeline) entry(i, j int, test bool) ElectronFunc {
	return func(ctx context.Context, deps map[string]any) (any, error) {
		s := deps["split"].(*splitResult)

		rows := s.train
		if test {
			rows = s.test
		}

		v, err := p.kernel.Evaluate(ctx, rows.Samples[i].Features, s.train.Samples[j].Features)
		if err != nil {
			return nil, err
		}
		return KernelValue{Row: i, Col: j, Value: v}, nil
	}
}

// gather assembles a Gram matrix from the kernel electrons ids, which are
// listed in row-major order.
func gather(ids []string, rows, cols int) ElectronFunc {
	return func(ctx context.Context, deps map[string]any) (any, error) {
		values := make([]KernelValue, len(ids))
		for k, id := range ids {
			values[k] = deps[id].(KernelValue)
		}
		return AssembleGram(values, rows, cols)
	}
}

func (p *Pipeline) fit(ctx context.Context, deps map[string]any) (any, error) {
	s := deps["split"].(*splitResult)

	svc := NewSVC(p.cfg.SVM)
	if err := svc.Fit(deps["gram/train"].(*mat.Dense), s.train.Y()); err != nil {
		return nil, err
	}
	return svc, nil
}

func predict(ctx context.Context, deps map[string]any) (any, error) {
	return deps["fit"].(*SVC).Predict(deps["gram/test"].(*mat.Dense))
}

func confusion(ctx context.Context, deps map[string]any) (any, error) {
	s := deps["split"].(*splitResult)
	return Confusion(s.test.Y(), deps["predict"].([]int), s.test.Classes...)
}
