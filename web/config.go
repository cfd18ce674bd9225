package web

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/wencoast/DeepLearning/nnet"
)

type ConfigPage struct {
	*Templates
	Fields []Field
	Layers []Layer
	mon    *Monitor
}

type Field struct {
	Name    string
	Value   string
	Boolean bool
	On      bool
}

type Layer struct {
	Index int
	Desc  string
}

// Base data for handler functions to view the run config and network layers
func NewConfigPage(t *Templates, mon *Monitor) *ConfigPage {
	p := &ConfigPage{mon: mon}
	p.Templates = t.Select("/config")
	p.Fields = getFields(mon.Conf)
	p.Layers = getLayers(mon.Arch)
	return p
}

// Handler function for the config template
func (p *ConfigPage) Base() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p.mon.Lock()
		defer p.mon.Unlock()
		p.Heading = p.mon.heading()
		p.Exec(w, r, "config", p, true)
	}
}

func getFields(conf nnet.Config) []Field {
	var flds []Field
	for _, key := range conf.Fields() {
		val := conf.Get(key)
		f := Field{Name: key, Value: fmt.Sprint(val)}
		f.On, f.Boolean = val.(bool)
		flds = append(flds, f)
	}
	return flds
}

func getLayers(arch nnet.Architecture) []Layer {
	desc := strings.Split(nnet.Describe(arch.Layers, arch.InputShape), "\n")
	layers := make([]Layer, len(desc))
	for i, d := range desc {
		layers[i] = Layer{Index: i, Desc: d}
	}
	return layers
}
