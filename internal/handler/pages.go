package handler

import (
	"net/http"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/dulcetentacion/storefront/internal/domain/catalog"
)

func (h *Handler) static(name, title string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.render(w, r, http.StatusOK, name, view{Title: title})
	}
}

func (h *Handler) menu(w http.ResponseWriter, r *http.Request) {
	m, err := h.catalog.Menu(r.Context())
	if err != nil {
		zctx.From(r.Context()).Error("Load menu", zap.Error(err))
		http.Error(w, "No pudimos cargar el menú", http.StatusInternalServerError)
		return
	}
	h.render(w, r, http.StatusOK, "menu", view{Title: "Menú", Data: m})
}

// apiMenu serves the grouped menu as JSON:
//
//	{"categories":[{"id":1,"name":"Obleas","products":[...]}],"uncategorized":[...]}
func (h *Handler) apiMenu(w http.ResponseWriter, r *http.Request) {
	m, err := h.catalog.Menu(r.Context())
	if err != nil {
		zctx.From(r.Context()).Error("Load menu", zap.Error(err))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"menu unavailable"}`))
		return
	}

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("categories")
	e.ArrStart()
	for _, s := range m.Sections {
		e.ObjStart()
		e.FieldStart("id")
		e.Int64(s.Category.ID)
		e.FieldStart("name")
		e.Str(s.Category.Name)
		e.FieldStart("products")
		encodeItems(&e, s.Items)
		e.ObjEnd()
	}
	e.ArrEnd()
	e.FieldStart("uncategorized")
	encodeItems(&e, m.Uncategorized)
	e.ObjEnd()

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(e.Bytes())
}

func encodeItems(e *jx.Encoder, items []catalog.MenuItem) {
	e.ArrStart()
	for _, it := range items {
		e.ObjStart()
		e.FieldStart("id")
		e.Int64(it.Product.ID)
		e.FieldStart("name")
		e.Str(it.Product.Name)
		e.FieldStart("description")
		e.Str(it.Product.Description)
		e.FieldStart("image")
		e.Str(it.Product.Image)
		e.FieldStart("options")
		e.ArrStart()
		for _, o := range it.Options {
			e.ObjStart()
			e.FieldStart("id")
			e.Int64(o.ID)
			e.FieldStart("label")
			e.Str(o.Label)
			e.FieldStart("price")
			e.Int64(o.Price)
			e.ObjEnd()
		}
		e.ArrEnd()
		e.ObjEnd()
	}
	e.ArrEnd()
}
