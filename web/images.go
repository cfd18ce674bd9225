package web

import (
	"fmt"
	"image"
	"image/png"
	"math/rand"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/wencoast/DeepLearning/img"
)

type ImagePage struct {
	*Templates
	Dset    string
	Class   int
	Page    int
	Distort string
	Rows    []int
	Cols    []int
	Width   int
	Height  int
	Pages   int
	Total   int
	mon     *Monitor
	trans   *img.Transformer
}

// Base data for handler functions to view the input images, scaled up by scale
func NewImagePage(t *Templates, mon *Monitor, scale float64, rows, cols int) *ImagePage {
	p := &ImagePage{mon: mon, Templates: t, Page: 1}
	for _, name := range []string{"prev", "next", "distort"} {
		p.AddOption(Link{Name: name, Url: "./" + name})
	}
	p.Rows, p.Cols = seq(rows), seq(cols)
	if d, ok := mon.Data["train"]; ok {
		p.Width = int(float64(d.Dims[1]) * scale)
		p.Height = int(float64(d.Dims[0]) * scale)
	}
	shift := mon.Conf.Shift
	if shift == 0 {
		shift = 4
	}
	p.trans = img.NewTransformer(true, shift, rand.New(rand.NewSource(mon.Conf.RandSeed)))
	return p
}

// Handler function for the main image page
func (p *ImagePage) Base() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p.mon.Lock()
		defer p.mon.Unlock()
		vars := mux.Vars(r)
		p.Dset = vars["dset"]
		p.Class = 0
		if vars["class"] != "" {
			p.Class, _ = strconv.Atoi(vars["class"])
		}
		base := "/images/" + p.Dset + "/"
		p.Select("/images/")
		if p.Distort != "" {
			p.SelectOptions([]string{"distort"})
		} else {
			p.SelectOptions(nil)
		}
		p.Heading = p.mon.heading()
		d, ok := p.mon.Data[p.Dset]
		if !ok {
			http.NotFound(w, r)
			return
		}
		p.Total, p.Pages = p.pageCount()
		if p.Page > p.Pages || p.Page < 1 {
			p.Page = 1
		}
		p.Dropdown = []Link{{Name: "all classes", Url: base + "0"}}
		for i, class := range d.Classes() {
			p.Dropdown = append(p.Dropdown, Link{Name: class, Url: base + strconv.Itoa(i+1), Selected: i+1 == p.Class})
		}
		p.Exec(w, r, "images", p, true)
	}
}

// Set option from top menu
func (p *ImagePage) Setopt() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p.mon.Lock()
		defer p.mon.Unlock()
		vars := mux.Vars(r)
		p.Dset = vars["dset"]
		if _, ok := p.mon.Data[p.Dset]; !ok {
			http.NotFound(w, r)
			return
		}
		p.Total, p.Pages = p.pageCount()
		switch vars["opt"] {
		case "prev":
			p.Page = mod(p.Page-1, 1, p.Pages)
		case "next":
			p.Page = mod(p.Page+1, 1, p.Pages)
		case "distort":
			if p.Distort == "" {
				p.Distort = strconv.Itoa(rand.Intn(999999))
			} else {
				p.Distort = ""
			}
		}
		http.Redirect(w, r, "/images/"+p.Dset+"/"+strconv.Itoa(p.Class), http.StatusFound)
	}
}

func (p *ImagePage) pageCount() (nimg, pages int) {
	d := p.mon.Data[p.Dset]
	for i := range d.Labels {
		if p.showImage(d, i) {
			nimg++
		}
	}
	size := len(p.Rows) * len(p.Cols)
	pages = (nimg + size - 1) / size
	if pages == 0 {
		pages = 1
	}
	return nimg, pages
}

func (p *ImagePage) showImage(d *img.Data, i int) bool {
	return p.Class == 0 || int(d.Labels[i]) == p.Class-1
}

// Index of image at given position on the page, from 1, or 0 if none
func (p *ImagePage) Index(row, col int) int {
	d := p.mon.Data[p.Dset]
	rows, cols := len(p.Rows), len(p.Cols)
	index := (p.Page-1)*rows*cols + row*cols + col
	for i := range d.Labels {
		if p.showImage(d, i) {
			index--
			if index < 0 {
				return i + 1
			}
		}
	}
	return 0
}

// Class name for the image
func (p *ImagePage) Label(i int) string {
	d := p.mon.Data[p.Dset]
	if i < 1 || i > d.Len() {
		return ""
	}
	label := d.Labels[i-1]
	return fmt.Sprintf("%d:%s", label, d.Class[label])
}

// Handler function for the image data
func (p *ImagePage) Image() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p.mon.Lock()
		defer p.mon.Unlock()
		vars := mux.Vars(r)
		d, ok := p.mon.Data[vars["dset"]]
		id, _ := strconv.Atoi(vars["id"])
		if !ok || id < 1 || id > d.Len() {
			http.NotFound(w, r)
			return
		}
		var m image.Image
		if r.FormValue("d") != "" {
			pix, err := p.trans.Transform(d.ImageBytes(id-1), d.Dims)
			if err != nil {
				logError(w, err)
				return
			}
			tmp := &img.Data{Class: d.Class, Dims: d.Dims, Labels: []int32{0}, Pixels: pix}
			m = tmp.Image(0)
		} else {
			m = d.Image(id - 1)
		}
		w.Header().Set("Content-type", "image/png")
		png.Encode(w, m)
	}
}

func seq(n int) []int {
	s := make([]int, n)
	for i := range s {
		s[i] = i
	}
	return s
}

func mod(i, min, max int) int {
	if i < min {
		i = max
	}
	if i > max {
		i = min
	}
	return i
}
