package web

import (
	"bytes"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/wencoast/DeepLearning/nnet"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/vgsvg"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

type TrainPage struct {
	*Templates
	mon *Monitor
}

// Base data for handler functions to monitor network training and display the stats
func NewTrainPage(t *Templates, mon *Monitor) *TrainPage {
	p := &TrainPage{mon: mon}
	p.Templates = t.Select("/train/")
	p.AddOption(Link{Name: "stats", Url: "/train/stats"})
	p.AddOption(Link{Name: "stop", Url: "/train/stop"})
	return p
}

// Handler function for the train template
func (p *TrainPage) Base() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		cmd := mux.Vars(r)["cmd"]
		switch cmd {
		case "stop":
			if p.mon.Stop() {
				log.Println("training stopped from web page")
				p.AddFlash(w, r, "training stopped")
			} else {
				p.AddFlash(w, r, "training is not running")
			}
			http.Redirect(w, r, "/train/stats", http.StatusFound)
		default:
			p.mon.Lock()
			defer p.mon.Unlock()
			p.Heading = p.mon.heading()
			p.SelectOptions([]string{cmd})
			p.Exec(w, r, "train", p, true)
		}
	}
}

// Handler function for the stats frame
func (p *TrainPage) Stats() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p.mon.Lock()
		defer p.mon.Unlock()
		p.Exec(w, r, "stats", p, false)
	}
}

// Handler function for websocket connection
func (p *TrainPage) Websocket() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("websocket upgrade:", err)
			return
		}
		p.mon.addConn(conn)
	}
}

func (p *TrainPage) Headers() []string {
	return nnet.StatsHeaders
}

func (p *TrainPage) LatestStats(n int) []nnet.Stats {
	last := len(p.mon.Stats) - 1
	res := []nnet.Stats{}
	for i := last; i >= 0 && i > last-n; i-- {
		res = append(res, p.mon.Stats[i])
	}
	return res
}

func (p *TrainPage) RunTime() string {
	if len(p.mon.Stats) == 0 {
		return ""
	}
	elapsed := p.mon.Stats[len(p.mon.Stats)-1].Elapsed
	return fmt.Sprintf("run time: %s", elapsed.Round(10*time.Millisecond))
}

func (p *TrainPage) LossPlot(width, height int) template.HTML {
	plt := newPlot()
	if len(p.mon.Stats) == 0 {
		return writePlot(plt, width, height)
	}
	for _, ix := range []int{0, 2} {
		line := newLinePlot(p.mon.Stats, ix, 1)
		plt.Add(line)
		plt.Legend.Add(nnet.StatsHeaders[ix]+" ", line)
	}
	return writePlot(plt, width, height)
}

func (p *TrainPage) AccuracyPlot(width, height int) template.HTML {
	plt := newPlot()
	if len(p.mon.Stats) == 0 {
		return writePlot(plt, width, height)
	}
	for _, ix := range []int{1, 3, 4} {
		line := newLinePlot(p.mon.Stats, ix, 100)
		plt.Add(line)
		plt.Legend.Add(nnet.StatsHeaders[ix]+" % ", line)
	}
	return writePlot(plt, width, height)
}

func newPlot() *plot.Plot {
	p := plot.New()
	p.X.Padding, p.Y.Padding = 0, 0
	p.X.Tick.Label.Font.Size = 10
	p.Y.Tick.Label.Font.Size = 10
	p.Legend.Top = true
	p.Legend.TextStyle.Font.Size = 12
	p.Add(plotter.NewGrid())
	return p
}

func writePlot(p *plot.Plot, w, h int) template.HTML {
	var buf bytes.Buffer
	writer, err := p.WriterTo(vg.Inch*vg.Length(w)/vgsvg.DPI, vg.Inch*vg.Length(h)/vgsvg.DPI, "svg")
	if err != nil {
		log.Println("error writing plot:", err)
		return ""
	}
	writer.WriteTo(&buf)
	return template.HTML(buf.String())
}

func newLinePlot(stats []nnet.Stats, ix int, scale float64) linePlot {
	var pts plotter.XYs
	xmin, xmax, ymax := 1.0, 1.0, 0.0
	for i, s := range stats {
		pt := plotter.XY{X: float64(s.Epoch), Y: s.Values()[ix] * scale}
		pts = append(pts, pt)
		if i == 0 || pt.X < xmin {
			xmin = pt.X
		}
		if pt.X > xmax {
			xmax = pt.X
		}
		if pt.Y > ymax {
			ymax = pt.Y
		}
	}
	l, err := plotter.NewLine(pts)
	if err != nil {
		log.Println("plot:", err)
		l = &plotter.Line{XYs: pts}
	}
	l.Width = 2
	l.Color = plotutil.Color(ix)
	return linePlot{Line: l, xmin: xmin, xmax: xmax, ymin: 0, ymax: ymax}
}

// modified plotter.Line with a fixed scale
type linePlot struct {
	*plotter.Line
	xmin, xmax, ymin, ymax float64
}

func (l linePlot) DataRange() (xmin, xmax, ymin, ymax float64) {
	return l.xmin, l.xmax, l.ymin, l.ymax
}
