// Package tracker accumulates scalar metrics per iteration, prints their means and saves charts
package tracker

import (
	"encoding/json"
	"fmt"
	"image/color"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// LogFile Name of JSON file with every value plotted so far
const LogFile = "log.json"

// Tracker Collects values of named metrics. Not safe for concurrent use
type Tracker struct {
	dir    string
	logger *log.Logger
	iter   int

	sinceBeginning map[string]map[int]float64
	sinceLastFlush map[string]map[int]float64
}

// New Returns tracker saving charts and log into provided directory
func New(dir string, logger *log.Logger) *Tracker {
	return &Tracker{
		dir:            dir,
		logger:         logger,
		sinceBeginning: make(map[string]map[int]float64),
		sinceLastFlush: make(map[string]map[int]float64),
	}
}

// SetIteration Sets current iteration (e.g. after resuming training)
func (t *Tracker) SetIteration(iter int) {
	t.iter = iter
}

// Iteration Returns current iteration
func (t *Tracker) Iteration() int {
	return t.iter
}

// Plot Records value of metric for current iteration
func (t *Tracker) Plot(name string, value float64) {
	if _, ok := t.sinceLastFlush[name]; !ok {
		t.sinceLastFlush[name] = make(map[int]float64)
	}
	t.sinceLastFlush[name][t.iter] = value
}

// Tick Moves to next iteration
func (t *Tracker) Tick() {
	t.iter++
}

// Flush Prints means of values recorded since previous flush, saves chart per metric and JSON log
func (t *Tracker) Flush() error {
	names := make([]string, 0, len(t.sinceLastFlush))
	for name := range t.sinceLastFlush {
		names = append(names, name)
	}
	sort.Strings(names)

	prints := make([]string, 0, len(names))
	for _, name := range names {
		vals := t.sinceLastFlush[name]
		values := make([]float64, 0, len(vals))
		for _, v := range vals {
			values = append(values, v)
		}
		prints = append(prints, fmt.Sprintf("%s\t%v", name, stat.Mean(values, nil)))

		if _, ok := t.sinceBeginning[name]; !ok {
			t.sinceBeginning[name] = make(map[int]float64)
		}
		for i, v := range vals {
			t.sinceBeginning[name][i] = v
		}
		if err := t.saveChart(name); err != nil {
			return err
		}
	}
	t.logger.Printf("iter %d\t%s\n", t.iter, strings.Join(prints, "\t"))
	t.sinceLastFlush = make(map[string]map[int]float64)
	return t.saveLog()
}

// ChartPath Returns path of chart for metric
func (t *Tracker) ChartPath(name string) string {
	return filepath.Join(t.dir, strings.Replace(name, " ", "_", -1)+".png")
}

func (t *Tracker) saveChart(name string) error {
	vals := t.sinceBeginning[name]
	iters := make([]int, 0, len(vals))
	for i := range vals {
		iters = append(iters, i)
	}
	sort.Ints(iters)
	xys := make(plotter.XYs, len(iters))
	for k, i := range iters {
		xys[k].X = float64(i)
		xys[k].Y = vals[i]
	}
	line, err := plotter.NewLine(xys)
	if err != nil {
		return errors.Wrap(err, fmt.Sprintf("Can't init line for '%s'", name))
	}
	line.LineStyle.Color = color.RGBA{R: 255, B: 128, A: 255}
	p := plot.New()
	p.Title.Text = name
	p.X.Label.Text = "iteration"
	p.Y.Label.Text = name
	p.Add(plotter.NewGrid())
	p.Add(line)
	if err := os.MkdirAll(t.dir, 0755); err != nil {
		return errors.Wrap(err, "Can't create directory for charts")
	}
	if err := p.Save(4*vg.Inch, 4*vg.Inch, t.ChartPath(name)); err != nil {
		return errors.Wrap(err, fmt.Sprintf("Can't save chart for '%s'", name))
	}
	return nil
}

func (t *Tracker) saveLog() error {
	if err := os.MkdirAll(t.dir, 0755); err != nil {
		return errors.Wrap(err, "Can't create directory for log")
	}
	f, err := os.Create(filepath.Join(t.dir, LogFile))
	if err != nil {
		return errors.Wrap(err, "Can't create log file")
	}
	if err := json.NewEncoder(f).Encode(t.sinceBeginning); err != nil {
		f.Close()
		return errors.Wrap(err, "Can't write log")
	}
	return f.Close()
}

// Load Reads values saved by Flush, so that resumed run keeps its history
func (t *Tracker) Load() error {
	f, err := os.Open(filepath.Join(t.dir, LogFile))
	if err != nil {
		return errors.Wrap(err, "Can't open log file")
	}
	defer f.Close()
	history := make(map[string]map[int]float64)
	if err := json.NewDecoder(f).Decode(&history); err != nil {
		return errors.Wrap(err, "Can't read log")
	}
	t.sinceBeginning = history
	return nil
}
