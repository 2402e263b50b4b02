package handler

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/dulcetentacion/storefront/internal/domain/catalog"
	"github.com/dulcetentacion/storefront/internal/domain/image"
)

// multipartMemory is the part of a multipart body kept in memory; the rest
// spills to temporary files.
const multipartMemory = 8 << 20

type editorData struct {
	Listing     *catalog.AdminListing
	MaxUploadMB int64
}

func (h *Handler) editor(w http.ResponseWriter, r *http.Request) {
	listing, err := h.catalog.AdminListing(r.Context())
	if err != nil {
		zctx.From(r.Context()).Error("Load admin listing", zap.Error(err))
		http.Error(w, "No pudimos cargar los productos", http.StatusInternalServerError)
		return
	}
	maxMB := h.maxUpload >> 20
	if maxMB == 0 {
		maxMB = image.DefaultMaxBytes >> 20
	}
	h.render(w, r, http.StatusOK, "editserver", view{
		Title: "Administrar",
		Data:  editorData{Listing: listing, MaxUploadMB: maxMB},
	})
}

// editorAction handles the add, edit and delete forms. Every outcome is
// reported as a flash message on the redirect back to the editor.
func (h *Handler) editorAction(w http.ResponseWriter, r *http.Request) {
	lg := zctx.From(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, h.bodyLimit)
	if err := r.ParseMultipartForm(multipartMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.back(w, r, flashError, "La solicitud es demasiado grande")
			return
		}
		h.back(w, r, flashError, "Formulario inválido")
		return
	}
	if r.MultipartForm != nil {
		defer func() { _ = r.MultipartForm.RemoveAll() }()
	}

	action := r.PostFormValue("action")
	switch action {
	case "add":
		h.addProduct(w, r)
	case "edit":
		h.editProduct(w, r)
	case "delete":
		h.deleteProduct(w, r)
	default:
		lg.Info("Unknown editor action", zap.String("action", action))
		h.back(w, r, flashError, "Acción desconocida")
	}
}

func (h *Handler) addProduct(w http.ResponseWriter, r *http.Request) {
	price, err := catalog.ParsePrice(r.PostFormValue("precio"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	categoryID, err := optionalID(r.PostFormValue("categoria_id"), "categoria_id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	upload, err := formUpload(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.catalog.AddProduct(r.Context(), catalog.AddProductRequest{
		CategoryID:  categoryID,
		Name:        r.PostFormValue("nombre"),
		Description: r.PostFormValue("descripcion"),
		Price:       price,
		Image:       upload,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if res.ImageErr != nil {
		h.back(w, r, flashNotice, fmt.Sprintf("Producto %q guardado con imagen por defecto: %s", res.Product.Name, imageProblem(res.ImageErr)))
		return
	}
	h.back(w, r, flashNotice, fmt.Sprintf("Producto %q agregado", res.Product.Name))
}

func (h *Handler) editProduct(w http.ResponseWriter, r *http.Request) {
	id, err := requiredID(r.PostFormValue("producto_id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	price, err := catalog.ParsePrice(r.PostFormValue("precio"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	upload, err := formUpload(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.catalog.EditProduct(r.Context(), catalog.EditProductRequest{
		ID:          id,
		Name:        r.PostFormValue("nombre"),
		Description: r.PostFormValue("descripcion"),
		Price:       price,
		Image:       upload,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if res.ImageErr != nil {
		h.back(w, r, flashNotice, fmt.Sprintf("Producto %q actualizado, la imagen no cambió: %s", res.Product.Name, imageProblem(res.ImageErr)))
		return
	}
	h.back(w, r, flashNotice, fmt.Sprintf("Producto %q actualizado", res.Product.Name))
}

func (h *Handler) deleteProduct(w http.ResponseWriter, r *http.Request) {
	id, err := requiredID(r.PostFormValue("producto_id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.catalog.DeleteProduct(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	h.back(w, r, flashNotice, "Producto eliminado")
}

func (h *Handler) back(w http.ResponseWriter, r *http.Request, kind, msg string) {
	h.redirect(w, r, "/editserver", kind, msg)
}

// fail maps a catalog error to a flash message. Unexpected errors are
// logged and reported generically.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var (
		valErr *catalog.ValidationError
		dupErr *catalog.DuplicateNameError
	)
	switch {
	case errors.As(err, &valErr):
		h.back(w, r, flashError, fmt.Sprintf("Campo %s: %s", valErr.Field, valErr.Reason))
	case errors.As(err, &dupErr):
		h.back(w, r, flashError, fmt.Sprintf("Ya existe %q", dupErr.Name))
	case errors.Is(err, catalog.ErrNotFound):
		h.back(w, r, flashError, "Producto no encontrado")
	case errors.Is(err, catalog.ErrCategoryNotFound):
		h.back(w, r, flashError, "Categoría no encontrada")
	default:
		zctx.From(r.Context()).Error("Editor action failed", zap.Error(err))
		h.back(w, r, flashError, "No se pudo completar la acción, intenta de nuevo")
	}
}

func imageProblem(err error) string {
	var (
		tooLarge    *image.PayloadTooLargeError
		unsupported *image.UnsupportedFormatError
	)
	switch {
	case errors.As(err, &tooLarge):
		return fmt.Sprintf("supera %d MB", tooLarge.Limit>>20)
	case errors.As(err, &unsupported):
		return "formato no permitido"
	default:
		return "servicio de imágenes no disponible"
	}
}

func requiredID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, &catalog.ValidationError{Field: "producto_id", Reason: "must be a positive integer"}
	}
	return id, nil
}

func optionalID(raw, field string) (*int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return nil, &catalog.ValidationError{Field: field, Reason: "must be a positive integer"}
	}
	return &id, nil
}

// formUpload returns the "imagen" file, or nil when none was sent.
func formUpload(r *http.Request) (*image.Upload, error) {
	f, fh, err := r.FormFile("imagen")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "read image field")
	}
	defer func() { _ = f.Close() }()

	if fh.Filename == "" {
		return nil, nil
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, errors.Wrap(err, "read image")
	}
	if len(data) == 0 {
		return nil, nil
	}
	return &image.Upload{Filename: fh.Filename, Data: data}, nil
}
