package leasing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"

	"golang.org/x/sync/errgroup"
)

// Resource names, also used as app-state keys.
const (
	NameCompanies     = "companies"
	NameUsers         = "users"
	NameProducts      = "products"
	NameLeaseAccounts = "lease_accounts"
	NameInstallments  = "installments"
)

// DocumentKinds are the multipart field names the backend accepts for lease
// account documents.
var DocumentKinds = []string{
	"form_pic",
	"customer_card_front",
	"customer_card_back",
	"guarantor_card_front",
	"guarantor_card_back",
	"customer_pic",
	"guarantor_pic",
	"cheque_pic",
}

// ProductImageField is the multipart field for product images.
const ProductImageField = "product_image"

// ErrInvalidDocumentKind is returned for a kind not in DocumentKinds.
var ErrInvalidDocumentKind = errors.New("invalid document kind")

// LeaseAccounts adds document uploads to the lease account resource.
type LeaseAccounts struct {
	*Resource[LeaseAccount]
}

// UploadDocument uploads the file at path as document kind of account id.
func (s *LeaseAccounts) UploadDocument(ctx context.Context, id, kind, path string) (*LeaseAccount, error) {
	if !slices.Contains(DocumentKinds, kind) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDocumentKind, kind)
	}
	return s.call(func(raw *[]byte) error {
		return uploadFile(ctx, s.api, s.itemPath(id)+"/documents", kind, path, raw)
	})
}

// Installments returns the schedule of account id.
func (s *LeaseAccounts) Installments(ctx context.Context, id string) ([]Installment, error) {
	var raw []byte
	if err := s.api.Get(ctx, s.itemPath(id)+"/installments", &raw); err != nil {
		return nil, err
	}
	var items []Installment
	if err := unwrap(raw, &items); err != nil {
		return nil, fmt.Errorf("failed to decode installments: %w", err)
	}
	return items, nil
}

// Products adds image uploads to the product resource.
type Products struct {
	*Resource[Product]
}

// UploadImage uploads the image at path for product id.
func (s *Products) UploadImage(ctx context.Context, id, path string) (*Product, error) {
	return s.call(func(raw *[]byte) error {
		return uploadFile(ctx, s.api, s.itemPath(id)+"/image", ProductImageField, path, raw)
	})
}

// Installments adds payments to the installment resource.
type Installments struct {
	*Resource[Installment]
}

// Pay records a payment of amount against installment id.
func (s *Installments) Pay(ctx context.Context, id string, amount float64) (*Installment, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
		return nil, fmt.Errorf("amount must be a positive number, got %v", amount)
	}
	body := map[string]any{"amount": amount}
	return s.call(func(raw *[]byte) error {
		return s.api.Post(ctx, s.itemPath(id)+"/pay", body, raw)
	})
}

// Service groups the resource services.
type Service struct {
	Companies     *Resource[Company]
	Users         *Resource[User]
	Products      *Products
	LeaseAccounts *LeaseAccounts
	Installments  *Installments
}

// New builds every service over api. st may be nil.
func New(api API, st Dispatcher) *Service {
	return &Service{
		Companies:     NewResource[Company](api, NameCompanies, "/companies", st),
		Users:         NewResource[User](api, NameUsers, "/users", st),
		Products:      &Products{NewResource[Product](api, NameProducts, "/products", st)},
		LeaseAccounts: &LeaseAccounts{NewResource[LeaseAccount](api, NameLeaseAccounts, "/lease-accounts", st)},
		Installments:  &Installments{NewResource[Installment](api, NameInstallments, "/installments", st)},
	}
}

// Summary lists every collection concurrently and returns the row count per
// resource name. The first failure cancels the remaining lists.
func (s *Service) Summary(ctx context.Context) (map[string]int, error) {
	g, ctx := errgroup.WithContext(ctx)
	names := []string{NameCompanies, NameUsers, NameProducts, NameLeaseAccounts, NameInstallments}
	counts := make([]int, len(names))

	listers := []func(context.Context) (int, error){
		countOf(s.Companies),
		countOf(s.Users),
		countOf(s.Products.Resource),
		countOf(s.LeaseAccounts.Resource),
		countOf(s.Installments.Resource),
	}
	for i, list := range listers {
		g.Go(func() error {
			n, err := list(ctx)
			if err != nil {
				return fmt.Errorf("%s: %w", names[i], err)
			}
			counts[i] = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]int, len(names))
	for i, name := range names {
		out[name] = counts[i]
	}
	return out, nil
}

func countOf[T any](r *Resource[T]) func(context.Context) (int, error) {
	return func(ctx context.Context) (int, error) {
		items, err := r.List(ctx, nil)
		return len(items), err
	}
}

func uploadFile(ctx context.Context, api API, path, field, file string, out *[]byte) error {
	f, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", file, err)
	}
	defer f.Close()
	return api.Upload(ctx, path, field, filepath.Base(file), f, nil, out)
}

// ParseAmount parses a payment amount from the command line.
func ParseAmount(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("invalid amount %q: not a finite number", s)
	}
	return v, nil
}
