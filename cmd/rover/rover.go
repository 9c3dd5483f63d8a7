package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/banshee-data/rover/internal/actuate"
	"github.com/banshee-data/rover/internal/api"
	"github.com/banshee-data/rover/internal/classify"
	"github.com/banshee-data/rover/internal/config"
	"github.com/banshee-data/rover/internal/db"
	"github.com/banshee-data/rover/internal/depth"
	"github.com/banshee-data/rover/internal/fft"
	"github.com/banshee-data/rover/internal/frames"
	"github.com/banshee-data/rover/internal/gradient"
	"github.com/banshee-data/rover/internal/hlac"
	"github.com/banshee-data/rover/internal/pipeline"
	"github.com/banshee-data/rover/internal/selftest"
	"github.com/banshee-data/rover/internal/timeutil"
	"github.com/banshee-data/rover/internal/xmem"
)

// rover owns every long-running component of the daemon.
type rover struct {
	cfg   *config.Config
	clock timeutil.Clock

	layout     *xmem.Layout
	frames     *frames.Publisher
	sim        *frames.Simulator
	pipeline   *pipeline.Pipeline
	mailbox    *actuate.Mailbox
	controller *actuate.Controller
	driver     actuate.Driver
	db         *db.DB
	health     *api.Health

	httpServer *http.Server
	httpLis    net.Listener
	grpcLis    net.Listener

	closeOnce sync.Once
	closers   []func() error
}

// classesFor is the number of classes the rule table addresses.
func classesFor(rules []actuate.Rule) int {
	n := 1
	for _, r := range rules {
		n = max(n, r.Hi+1)
	}
	return n
}

func loadModel(cfg *config.Config) (*classify.Model, error) {
	if path := cfg.GetModelPath(); path != "" {
		return classify.LoadModel(path)
	}
	log.Printf("no model_path configured, using the stub model")
	return classify.StubModel(classesFor(cfg.GetRules())), nil
}

// layoutRegions partitions external memory into frames, gradient and
// transform scratch, followed by depth scratch when depth is enabled.
func layoutRegions(cfg *config.Config) (*xmem.Layout, error) {
	w, h := cfg.GetFrameWidth(), cfg.GetFrameHeight()
	l := xmem.NewLayout(uint32(cfg.GetStoreSize()))
	if _, err := l.Add("frames", cfg.GetFrameBase(), uint32(cfg.GetFrameSlots())*frames.SlotBytes(w, h)); err != nil {
		return nil, err
	}
	if _, err := l.Add("gradient", cfg.GetGradientBase(), uint32(w*h)); err != nil {
		return nil, err
	}
	if _, err := l.Add("fft", cfg.GetFFTBase(), selftest.RegionBytes(cfg.GetFFTMaxSize())); err != nil {
		return nil, err
	}
	if cfg.GetDepthSize() > 0 {
		if _, err := l.Append("depth", depth.RegionBytes(cfg.DepthGrid())); err != nil {
			return nil, err
		}
	}
	return l, nil
}

func (r *rover) openDriver(dev bool) error {
	if dev {
		r.driver = actuate.NewRecordingDriver(r.clock)
		return nil
	}
	port := r.cfg.GetMotorPort()
	if port == "" {
		return errors.New("motor_port is required outside dev mode")
	}
	d, err := actuate.OpenSerialDriver(port, r.cfg.GetMotorPortOptions(), r.cfg.GetMotorPeriodCounts())
	if err != nil {
		return err
	}
	r.driver = d
	r.closers = append(r.closers, d.Close)
	return nil
}

// recordAction stores every command the controller applies.
func (r *rover) recordAction(cmd actuate.Command, out actuate.Output, at time.Time) {
	a := &db.MotorAction{
		SessionID: r.pipeline.SessionID(),
		Command:   cmd.String(),
		Output:    out,
		Wheels:    out.Wheels(),
		CreatedAt: at,
	}
	if err := r.db.RecordMotorAction(a); err != nil {
		log.Printf("failed to record motor action: %v", err)
	}
}

func newRover(cfg *config.Config, dev bool) (_ *rover, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	r := &rover{cfg: cfg, clock: timeutil.RealClock{}}
	defer func() {
		if err != nil {
			r.Close()
		}
	}()

	if r.layout, err = layoutRegions(cfg); err != nil {
		return nil, err
	}
	frameRegion, _ := r.layout.Region("frames")
	gradRegion, _ := r.layout.Region("gradient")
	fftRegion, _ := r.layout.Region("fft")

	store := xmem.NewBlockStore(xmem.NewMemStore(uint32(cfg.GetStoreSize())))
	gradView := gradRegion.Bind(store)
	w, h := cfg.GetFrameWidth(), cfg.GetFrameHeight()
	if r.frames, err = frames.NewPublisher(store, frameRegion, w, h); err != nil {
		return nil, err
	}
	if dev {
		r.sim = frames.NewSimulator(r.frames, r.clock, cfg.GetCaptureInterval())
	}

	if r.db, err = db.NewDB(cfg.GetDBPath()); err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	r.closers = append(r.closers, r.db.Close)

	model, err := loadModel(cfg)
	if err != nil {
		return nil, err
	}

	r.mailbox = actuate.NewMailbox()
	r.pipeline, err = pipeline.New(pipeline.Config{
		Frames:   r.frames,
		Gradient: gradient.NewStage(r.frames.View(), gradView, 0),
		Extractor: hlac.NewExtractor(hlac.NewPairTable(),
			hlac.WithMaxWidth(cfg.GetHLACMaxWidth()),
			hlac.WithYieldRows(cfg.GetHLACYieldRows()),
		),
		Model:        model,
		Mailbox:      r.mailbox,
		GradientBase: 0,
		Clock:        r.clock,
		Store:        gradView,
		Recorder:     r.db,
		RepeatBelow:  cfg.GetRepeatBelowScore(),
	})
	if err != nil {
		return nil, err
	}

	if err := r.openDriver(dev); err != nil {
		return nil, err
	}
	r.controller = actuate.NewController(r.driver, cfg.GetRules(), cfg.GetMotorHold())
	r.controller.OnChange = r.recordAction

	suite := selftest.NewSuite(fft.NewEngine(fft.WithMaxSize(cfg.GetFFTMaxSize())), fftRegion.Bind(store), r.clock)
	suite.TransposeCapacity = cfg.GetTransposeCapacity()

	var recon *depth.Reconstructor
	if depthRegion, ok := r.layout.Region("depth"); ok {
		opts := []depth.Option{depth.WithTransposeCapacity(cfg.GetTransposeCapacity())}
		if cfg.GetDepthPadding() {
			opts = append(opts, depth.WithPadding())
		}
		recon, err = depth.New(fft.NewEngine(fft.WithMaxSize(cfg.GetFFTMaxSize())),
			depthRegion.Bind(store), cfg.GetDepthSize(), opts...)
		if err != nil {
			return nil, err
		}
	}

	r.health = api.NewHealth()
	srv := api.NewServer(api.Deps{
		Controller: r.controller,
		Mailbox:    r.mailbox,
		Pipeline:   r.pipeline,
		Frames:     r.frames,
		DB:         r.db,
		Selftest:   suite,
		Depth:      recon,
		Clock:      r.clock,
	})
	mux := srv.ServeMux()
	if err := r.db.AttachAdminRoutes(mux); err != nil {
		return nil, fmt.Errorf("failed to attach admin routes: %w", err)
	}
	r.httpServer = &http.Server{Handler: api.LoggingMiddleware(mux)}

	if r.httpLis, err = net.Listen("tcp", cfg.GetHTTPListen()); err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", cfg.GetHTTPListen(), err)
	}
	r.closers = append(r.closers, r.httpLis.Close)
	if r.grpcLis, err = net.Listen("tcp", cfg.GetGRPCListen()); err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", cfg.GetGRPCListen(), err)
	}
	r.closers = append(r.closers, r.grpcLis.Close)

	for _, reg := range r.layout.Regions() {
		log.Printf("region %-8s [0x%06x,0x%06x)", reg.Name, reg.Base, reg.End())
	}
	return r, nil
}

func (r *rover) HTTPAddr() string { return r.httpLis.Addr().String() }
func (r *rover) GRPCAddr() string { return r.grpcLis.Addr().String() }

// Run starts every routine and blocks until ctx is done or one of them
// fails. The first failure stops the others and is returned.
func (r *rover) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var wg sync.WaitGroup
	start := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := fn(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				cancel(fmt.Errorf("%s: %w", name, err))
			}
			log.Printf("%s routine terminated", name)
		}()
	}

	if r.sim != nil {
		start("camera simulator", r.sim.Run)
	}
	start("pipeline", r.pipeline.Run)
	start("motor control", func(ctx context.Context) error {
		return r.health.Track(func() error {
			return r.controller.Run(ctx, r.mailbox, r.clock, r.cfg.GetMotorUpdatePeriod())
		})
	})
	start("grpc", func(ctx context.Context) error {
		return api.ServeGRPC(ctx, r.grpcLis, r.health)
	})
	start("http", func(ctx context.Context) error {
		errc := make(chan error, 1)
		go func() { errc <- r.httpServer.Serve(r.httpLis) }()

		select {
		case err := <-errc:
			return err
		case <-ctx.Done():
		}
		log.Println("shutting down HTTP server...")
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), time.Second)
		defer cancelShutdown()
		if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := r.httpServer.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}
		if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	wg.Wait()
	if err := context.Cause(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Close releases the driver, database and listeners. It is safe to call
// more than once.
func (r *rover) Close() {
	r.closeOnce.Do(func() {
		for i := len(r.closers) - 1; i >= 0; i-- {
			if err := r.closers[i](); err != nil && !errors.Is(err, net.ErrClosed) {
				log.Printf("close: %v", err)
			}
		}
	})
}
