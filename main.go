package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/vincent-vinf/go-jsend"
	"go.uber.org/zap"

	"manual-shutter/pkg/camera"
	"manual-shutter/pkg/display"
	"manual-shutter/pkg/session"
	"manual-shutter/pkg/settings"
	"manual-shutter/pkg/storage"
	"manual-shutter/pkg/types"
	"manual-shutter/pkg/utils"
	"manual-shutter/pkg/utils/clock"
	"manual-shutter/pkg/utils/ps"
	"manual-shutter/pkg/video"
	"manual-shutter/pkg/webdav"
)

var (
	webdavPort   = flag.Int("webdav-port", 9998, "webdav port")
	port         = flag.Int("port", 9999, "ui port")
	storageDir   = flag.String("dir", "./manual-shutter", "destination folder")
	staticsDir   = flag.String("statics", "", "ui directory, empty serves the api only")
	settingsPath = flag.String("settings", "./settings.json", "settings file")
	devices      = flag.String("device", camera.DefaultDevices, "device node glob")
	ntpServer    = flag.String("ntp", "", "ntp server, empty keeps the local clock")
	reserveMB    = flag.Uint64("reserve-mb", 64, "memory kept back from capture admission")
	timelapseFPS = flag.Int("timelapse-fps", 10, "frame rate of sequence timelapses")
	maxFrames    = flag.Int("timelapse-max-frames", 0, "frame cap of one timelapse, 0 is unlimited")

	logger *zap.SugaredLogger

	sess   *session.Session
	store  *settings.Store
	board  *display.Board
	folder *storage.Folder
	src    *camera.Source
	clk    *clock.Clock
	wd     *webdav.Webdav
)

func init() {
	logger = utils.GetLogger()
}

func main() {
	flag.Parse()
	defer logger.Sync()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var err error
	store, err = settings.Load(*settingsPath)
	if errors.Is(err, settings.ErrInvalid) {
		logger.Warnf("settings: %s", err)
	} else if err != nil {
		logger.Fatal(err)
	}
	defer func() {
		if err := store.Flush(); err != nil {
			logger.Errorf("settings: %s", err)
		}
	}()

	folder, err = storage.New(*storageDir)
	if err != nil {
		logger.Fatal(err)
	}

	clk = clock.New(*ntpServer)
	go clk.Run(ctx, time.Hour)

	camCfg := camera.DefaultConfig()
	camCfg.Devices = *devices
	src = camera.NewSource(camCfg)
	board = display.NewBoard(512, 128, clk.Now)
	recorder := video.NewRecorder(folder, types.TimelapseSetting{Enable: true, FPS: *timelapseFPS, MaxFrames: *maxFrames})
	wd = webdav.New(ctx, *webdavPort, *storageDir)

	saved := store.Get()
	cfg := session.DefaultConfig()
	cfg.TimelapseFPS = *timelapseFPS
	saved.Apply(&cfg)
	sess = session.New(cfg, saved.Options(), session.Deps{
		Source:    src,
		Display:   board,
		Sink:      recorder,
		Memory:    ps.Probe{ReserveMB: *reserveMB},
		Timelapse: recorder,
		Now:       clk.Now,
	})
	defer sess.Close()

	if err = sess.Start(ctx, saved.CameraID); err != nil {
		// the status endpoint carries the fatal error to the ui
		logger.Errorf("session: %s", err)
	}

	go func() {
		err := store.Watch(ctx, func(s settings.Settings) {
			sess.SetOptions(s.Options())
		})
		if err != nil {
			logger.Warnf("settings: %s", err)
		}
	}()

	if err = utils.ListenAndServe(ctx, newRouter(), *port); err != nil {
		logger.Errorf("http: %s", err)
	}
}

func newRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(utils.Cors(histogramClassHeader))
	if *staticsDir != "" {
		if err := registerStaticsDir(r, *staticsDir, "/"); err != nil {
			logger.Fatal(err)
		}
	}
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, jsend.SimpleErr("page not found"))
	})

	apiRouter := r.Group("/api")
	apiRouter.GET("/status", getStatus)
	apiRouter.GET("/snapshot", getSnapshot)
	apiRouter.GET("/histogram.png", getHistogram)
	apiRouter.GET("/messages", getMessages)
	apiRouter.GET("/system", getSystem)
	apiRouter.PUT("/options", setOptions)

	apiRouter.POST("/capture", capture)
	apiRouter.PUT("/capture/hold", holdTrigger)

	apiRouter.PUT("/focus", setFocus)
	apiRouter.PUT("/focus/tap", tapFocus)

	apiRouter.PUT("/exposure", setExposure)
	apiRouter.PUT("/exposure/step", step)
	apiRouter.PUT("/exposure/compensation", setCompensation)

	apiRouter.POST("/sequence", startSequence)
	apiRouter.DELETE("/sequence", stopSequence)

	deviceRouter := apiRouter.Group("/device")
	deviceRouter.PUT("/select", selectDevice)
	deviceRouter.GET("/controls", getControls)
	deviceRouter.GET("/realtime/video", realtimeVideo)
	deviceRouter.PUT("/webdav", ctlWebdav)

	imageRouter := apiRouter.Group("/images")
	imageRouter.GET("", listImages)
	imageRouter.GET("/latest", latestImage)
	imageRouter.GET("/:name", getImage)
	imageRouter.GET("/:name/tags", getRawTags)

	return r
}

func registerStaticsDir(group gin.IRoutes, dir, relativeGroup string) error {
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return fmt.Errorf("the specified directory %s does not exist", dir)
	}
	dir = filepath.ToSlash(filepath.Clean(dir))
	group.StaticFile(relativeGroup, filepath.Join(dir, "index.html"))
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			relativePath := path.Join(relativeGroup, strings.Replace(filepath.ToSlash(p), dir, "", 1))
			group.StaticFile(relativePath, p)
		}
		return nil
	})
}
