package domain

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Book is a catalog item owned by the remote catalog service.
type Book struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Author          string    `json:"author"`
	ISBN            string    `json:"isbn"`
	Description     string    `json:"description,omitempty"`
	Category        string    `json:"category"`
	PublicationYear int       `json:"publication_year"`
	Publisher       string    `json:"publisher,omitempty"`
	Pages           int       `json:"pages,omitempty"`
	Language        string    `json:"language"`
	CoverImage      string    `json:"cover_image,omitempty"`
	AvailableCopies int       `json:"available_copies"`
	TotalCopies     int       `json:"total_copies"`
	CreatedAt       time.Time `json:"created_at"`
	Rating          float64   `json:"rating"`
	ReviewsCount    int       `json:"reviews_count"`
}

// Available reports whether at least one copy can be borrowed.
func (b *Book) Available() bool { return b.AvailableCopies > 0 }

// BookQuery filters the paginated catalog listing.
type BookQuery struct {
	Search   string
	Category string
	Author   string
	Page     PageRequest
}

// Values encodes the query as URL parameters. Empty filters are omitted.
func (q BookQuery) Values() url.Values {
	v := url.Values{}
	if s := strings.TrimSpace(q.Search); s != "" {
		v.Set("search", s)
	}
	if q.Category != "" {
		v.Set("category", q.Category)
	}
	if q.Author != "" {
		v.Set("author", q.Author)
	}
	v.Set("skip", strconv.Itoa(q.Page.Offset()))
	v.Set("limit", strconv.Itoa(q.Page.Limit()))
	return v
}

// BookInput holds administrative create/update fields for a catalog item.
type BookInput struct {
	Title           string `json:"title"`
	Author          string `json:"author"`
	ISBN            string `json:"isbn"`
	Description     string `json:"description,omitempty"`
	Category        string `json:"category"`
	PublicationYear int    `json:"publication_year"`
	Publisher       string `json:"publisher,omitempty"`
	Pages           int    `json:"pages,omitempty"`
	Language        string `json:"language,omitempty"`
	TotalCopies     int    `json:"total_copies"`
	AvailableCopies *int   `json:"available_copies,omitempty"`
}

// Validate checks the capacity invariant and required fields.
func (in *BookInput) Validate() error {
	var fields []FieldError
	if strings.TrimSpace(in.Title) == "" {
		fields = append(fields, FieldError{Field: "title", Message: "is required"})
	}
	if strings.TrimSpace(in.Author) == "" {
		fields = append(fields, FieldError{Field: "author", Message: "is required"})
	}
	if strings.TrimSpace(in.ISBN) == "" {
		fields = append(fields, FieldError{Field: "isbn", Message: "is required"})
	}
	if in.TotalCopies < 0 {
		fields = append(fields, FieldError{Field: "total_copies", Message: "must be >= 0"})
	}
	if in.AvailableCopies != nil {
		if *in.AvailableCopies < 0 {
			fields = append(fields, FieldError{Field: "available_copies", Message: "must be >= 0"})
		} else if *in.AvailableCopies > in.TotalCopies {
			fields = append(fields, FieldError{Field: "available_copies", Message: "must not exceed total_copies"})
		}
	}
	if len(fields) > 0 {
		return &ValidationError{Message: "invalid book", Fields: fields}
	}
	return nil
}

// ProblemReport describes an issue a reader found with a copy.
type ProblemReport struct {
	Description string `json:"description"`
}

// MaxCoverSize is the largest cover image accepted.
const MaxCoverSize = 10 << 20

var coverExtensions = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true}

// Cover is a cover image sent along with a catalog item.
type Cover struct {
	Filename string
	Data     []byte
}

// Validate checks the image type and size.
func (c Cover) Validate() error {
	ext := strings.ToLower(filepath.Ext(c.Filename))
	if !coverExtensions[ext] {
		return &ValidationError{
			Message: "invalid cover image",
			Fields:  []FieldError{{Field: "cover_image", Message: fmt.Sprintf("unsupported image type %q", ext)}},
		}
	}
	if len(c.Data) == 0 {
		return &ValidationError{
			Message: "invalid cover image",
			Fields:  []FieldError{{Field: "cover_image", Message: "is empty"}},
		}
	}
	if len(c.Data) > MaxCoverSize {
		return &ValidationError{
			Message: "invalid cover image",
			Fields:  []FieldError{{Field: "cover_image", Message: "exceeds 10MB"}},
		}
	}
	return nil
}

// FormValues encodes the input as the multipart fields of the cover upload
// endpoints. Available copies are derived by the server there.
func (in BookInput) FormValues() url.Values {
	v := url.Values{}
	v.Set("title", in.Title)
	v.Set("author", in.Author)
	v.Set("isbn", in.ISBN)
	v.Set("category", in.Category)
	v.Set("publication_year", strconv.Itoa(in.PublicationYear))
	v.Set("total_copies", strconv.Itoa(in.TotalCopies))
	if in.Description != "" {
		v.Set("description", in.Description)
	}
	if in.Publisher != "" {
		v.Set("publisher", in.Publisher)
	}
	if in.Pages > 0 {
		v.Set("pages", strconv.Itoa(in.Pages))
	}
	if in.Language != "" {
		v.Set("language", in.Language)
	}
	return v
}
