package main

import (
	"errors"
	"fmt"
	"io/fs"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
	"github.com/vincent-vinf/go-jsend"

	"manual-shutter/pkg/exposure"
	"manual-shutter/pkg/ov"
	"manual-shutter/pkg/persist"
	"manual-shutter/pkg/session"
	"manual-shutter/pkg/settings"
	"manual-shutter/pkg/storage"
	"manual-shutter/pkg/storage/consts"
	"manual-shutter/pkg/utils/ps"
)

const (
	histogramClassHeader = "X-Histogram-Class"

	webDavStart    = "start"
	webDavShutdown = "shutdown"
)

func getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, jsend.Success(board.Status()))
}

func getSnapshot(c *gin.Context) {
	snap, err := sess.Snapshot()
	if err != nil {
		internalErr(c, err)
		return
	}
	c.JSON(http.StatusOK, jsend.Success(snap))
}

func getHistogram(c *gin.Context) {
	data, class := board.Histogram()
	if data == nil {
		c.JSON(http.StatusNotFound, jsend.SimpleErr("no histogram yet"))
		return
	}
	c.Header(histogramClassHeader, class.String())
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", data)
}

func getMessages(c *gin.Context) {
	c.JSON(http.StatusOK, jsend.Success(board.Messages()))
}

func getSystem(c *gin.Context) {
	var res ov.System
	if pct, err := ps.CPUPercent(); err == nil {
		res.CPUPercent = pct
	}
	m, err := ps.MemoryStatus()
	if err != nil {
		internalErr(c, err)
		return
	}
	res.MemoryUsed = humanize.IBytes(m.Used)
	res.MemoryTotal = humanize.IBytes(m.Total)
	res.AvailableMB, _ = ps.Probe{ReserveMB: *reserveMB}.AvailableMB()

	d, err := ps.DiskUsage(folder.Dir())
	if err != nil {
		internalErr(c, err)
		return
	}
	res.DiskUsed = humanize.IBytes(d.Used)
	res.DiskTotal = humanize.IBytes(d.Total)
	if n, err := ps.DirDiskUsage(folder.Dir()); err == nil {
		res.FolderSize = humanize.IBytes(uint64(n))
	}
	if offset, at := clk.Offset(); !at.IsZero() {
		res.ClockOffset = fmt.Sprintf("%s (%s)", offset, humanize.Time(at))
	}

	c.JSON(http.StatusOK, jsend.Success(res))
}

func setOptions(c *gin.Context) {
	snap, err := sess.Snapshot()
	if err != nil {
		internalErr(c, err)
		return
	}
	// unspecified fields keep their current value
	o := snap.Options
	if err = c.BindJSON(&o); err != nil {
		return
	}
	sess.SetOptions(o)
	saveOptions(c)
}

func capture(c *gin.Context) {
	sess.Capture()
	c.JSON(http.StatusOK, jsend.Success(nil))
}

func holdTrigger(c *gin.Context) {
	var h ov.Hold
	if err := c.Bind(&h); err != nil {
		return
	}
	sess.HoldTrigger(h.Held)
	c.JSON(http.StatusOK, jsend.Success(h))
}

func setFocus(c *gin.Context) {
	var f ov.Focus
	if err := c.Bind(&f); err != nil {
		return
	}
	mode, err := session.ParseFocusMode(f.Mode)
	if err != nil {
		badRequest(c, err)
		return
	}
	sess.SetFocus(mode, f.Distance)
	saveOptions(c)
}

func tapFocus(c *gin.Context) {
	var t ov.Tap
	if err := c.Bind(&t); err != nil {
		return
	}
	sess.Tap(t.X, t.Y)
	c.JSON(http.StatusOK, jsend.Success(t))
}

func setExposure(c *gin.Context) {
	var e ov.Exposure
	if err := c.Bind(&e); err != nil {
		return
	}
	isoMode, err := exposure.ParseMode(e.ISOMode)
	if err != nil {
		badRequest(c, err)
		return
	}
	speedMode, err := exposure.ParseMode(e.SpeedMode)
	if err != nil {
		badRequest(c, err)
		return
	}
	sess.SetExposure(exposure.Setting{ISOMode: isoMode, ISO: e.ISO, SpeedMode: speedMode, Speed: int64(e.Speed)})
	saveOptions(c)
}

func step(c *gin.Context) {
	var s ov.Step
	if err := c.Bind(&s); err != nil {
		return
	}
	ctrl, err := session.ParseControl(s.Control)
	if err != nil {
		badRequest(c, err)
		return
	}
	sess.Step(ctrl, s.Dir)
	saveOptions(c)
}

func setCompensation(c *gin.Context) {
	var v ov.Compensation
	if err := c.Bind(&v); err != nil {
		return
	}
	sess.SetCompensation(v.Value)
	saveOptions(c)
}

func startSequence(c *gin.Context) {
	var s ov.Sequence
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&s); err != nil {
			badRequest(c, err)
			return
		}
	}
	cfg := store.Get().Sequence()
	if s.StartDelay > 0 {
		cfg.StartDelay = s.StartDelay
	}
	if s.Interval > 0 {
		cfg.Interval = s.Interval
	}
	if s.Target > 0 {
		cfg.Target = s.Target
	}
	if err := sess.StartSequence(cfg); err != nil {
		if errors.Is(err, session.ErrNoDevice) {
			c.JSON(http.StatusConflict, jsend.SimpleErr(err.Error()))
			return
		}
		badRequest(c, err)
		return
	}
	c.JSON(http.StatusOK, jsend.Success(cfg))
}

func stopSequence(c *gin.Context) {
	sess.StopSequence()
	c.JSON(http.StatusOK, jsend.Success(nil))
}

func selectDevice(c *gin.Context) {
	id := c.Query("id")
	sess.SelectDevice(id)
	store.Update(func(s *settings.Settings) { s.CameraID = id })
	if err := store.Flush(); err != nil {
		logger.Warnf("settings: %s", err)
	}
	c.JSON(http.StatusOK, jsend.Success(id))
}

func getControls(c *gin.Context) {
	ctrls, err := src.Controls()
	if err != nil {
		internalErr(c, err)
		return
	}
	c.JSON(http.StatusOK, jsend.Success(ctrls))
}

func realtimeVideo(c *gin.Context) {
	frames, stop := src.Preview.Subscribe()
	defer stop()

	mimeWriter := multipart.NewWriter(c.Writer)
	c.Header("Content-Type", fmt.Sprintf("multipart/x-mixed-replace; boundary=%s", mimeWriter.Boundary()))
	partHeader := make(textproto.MIMEHeader)
	partHeader.Add("Content-Type", "image/jpeg")

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			partWriter, err := mimeWriter.CreatePart(partHeader)
			if err != nil {
				logger.Warnf("failed to create multi-part writer: %s", err)
				return
			}
			if _, err := partWriter.Write(frame); err != nil {
				logger.Debugf("failed to write image: %s", err)
				return
			}
			c.Writer.Flush()
		}
	}
}

func ctlWebdav(c *gin.Context) {
	switch c.Query("op") {
	case webDavStart:
		addr, err := wd.Start()
		if err != nil {
			internalErr(c, err)
			return
		}
		c.JSON(http.StatusOK, jsend.Success(addr))
	case webDavShutdown:
		if !wd.Stop() {
			c.JSON(http.StatusOK, jsend.SimpleErr("the webdav service has been shut down"))
			return
		}
		c.JSON(http.StatusOK, jsend.Success(nil))
	default:
		c.JSON(http.StatusBadRequest, jsend.SimpleErr("unknown operation"))
	}
}

func listImages(c *gin.Context) {
	files, err := folder.List(consts.JPEGExt, consts.RawExt, consts.AVIExt)
	if err != nil {
		internalErr(c, err)
		return
	}
	c.JSON(http.StatusOK, jsend.Success(files))
}

func latestImage(c *gin.Context) {
	info, err := folder.Info()
	if err != nil {
		internalErr(c, err)
		return
	}
	c.JSON(http.StatusOK, jsend.Success(info))
}

func getImage(c *gin.Context) {
	p, err := folder.Path(c.Param("name"))
	if err != nil {
		badRequest(c, err)
		return
	}
	c.File(p)
}

// getRawTags decodes the metadata block written in front of a raw frame.
func getRawTags(c *gin.Context) {
	name := c.Param("name")
	if filepath.Ext(name) != consts.RawExt {
		badRequest(c, fmt.Errorf("%s is not a raw file", name))
		return
	}
	data, err := folder.Read(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			c.JSON(http.StatusNotFound, jsend.SimpleErr(err.Error()))
			return
		}
		badRequest(c, err)
		return
	}
	tags, pix, err := persist.DecodeTaggedRaw(data)
	if err != nil {
		badRequest(c, err)
		return
	}
	c.JSON(http.StatusOK, jsend.Success(gin.H{"tags": tags, "pixelBytes": len(pix)}))
}

// saveOptions persists what the session settled on after a control change.
func saveOptions(c *gin.Context) {
	snap, err := sess.Snapshot()
	if err != nil {
		internalErr(c, err)
		return
	}
	store.Update(func(s *settings.Settings) { s.SetOptions(snap.Options) })
	if err = store.Flush(); err != nil {
		logger.Warnf("settings: %s", err)
	}
	c.JSON(http.StatusOK, jsend.Success(snap.Status))
}

func badRequest(c *gin.Context, err error) {
	if errors.Is(err, storage.ErrBadName) {
		c.JSON(http.StatusNotFound, jsend.SimpleErr(err.Error()))
		return
	}
	c.JSON(http.StatusBadRequest, jsend.SimpleErr(err.Error()))
}

func internalErr(c *gin.Context, err error) {
	if errors.Is(err, session.ErrClosed) {
		c.JSON(http.StatusServiceUnavailable, jsend.SimpleErr(err.Error()))
		return
	}
	c.JSON(http.StatusInternalServerError, jsend.SimpleErr(err.Error()))
}
