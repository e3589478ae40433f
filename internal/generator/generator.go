// Package generator writes synthetic bank transaction exports in the layout
// the loader reads. Output is reproducible from the seed.
//
// Three patterns are supported. Clean rows load without a drop. Dirty rows
// carry one defect each (a missing marker, an unparseable date, or an
// unparseable amount) so the cleaning counters can be checked against the
// generator's own tally. Drift keeps the customer base of a seed but changes
// the contact details of a share of customers, producing the input of a
// second run that must close and reopen customer versions.
package generator

import (
	"encoding/csv"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"bank-fraud-etl/internal/models"
	"bank-fraud-etl/pkg/errors"
)

// Pattern selects what kind of export is generated
type Pattern string

const (
	PatternClean Pattern = "clean"
	PatternDirty Pattern = "dirty"
	PatternDrift Pattern = "drift"
)

// IsValid checks if the pattern is supported
func (p Pattern) IsValid() bool {
	switch p {
	case PatternClean, PatternDirty, PatternDrift:
		return true
	}
	return false
}

// Defect kinds written by the dirty pattern
const (
	DefectMissing   = "missing"
	DefectTimestamp = "timestamp"
	DefectAmount    = "amount"
)

// Options control one generated export
type Options struct {
	Count     int
	Customers int
	Merchants int
	StartDate time.Time
	EndDate   time.Time
	MinAmount decimal.Decimal
	MaxAmount decimal.Decimal
	Seed      int64
	Pattern   Pattern
	// DirtyRate is the share of rows given a defect by the dirty pattern.
	DirtyRate float64
	// DriftRate is the share of customers changed by the drift pattern.
	DriftRate float64
	// IDPrefix keeps transaction ids of several exports apart.
	IDPrefix string
}

// DefaultOptions returns options for a small clean export
func DefaultOptions() *Options {
	return &Options{
		Count:     1000,
		Customers: 100,
		Merchants: 40,
		StartDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
		MinAmount: decimal.NewFromInt(10),
		MaxAmount: decimal.NewFromInt(50000),
		Seed:      1,
		Pattern:   PatternClean,
		DirtyRate: 0.1,
		DriftRate: 0.2,
		IDPrefix:  "T",
	}
}

// Validate checks the options
func (o *Options) Validate() error {
	switch {
	case o.Count < 0:
		return errors.ConfigurationError(errors.CodeInvalidConfig, "count", o.Count, nil)
	case o.Customers <= 0:
		return errors.ConfigurationError(errors.CodeInvalidConfig, "customers", o.Customers, nil)
	case o.Merchants <= 0:
		return errors.ConfigurationError(errors.CodeInvalidConfig, "merchants", o.Merchants, nil)
	case !o.EndDate.After(o.StartDate):
		return errors.ConfigurationError(errors.CodeInvalidConfig, "end_date", o.EndDate.Format("2006-01-02"), nil).
			WithSuggestion("the end date must be after the start date")
	case o.MinAmount.IsNegative() || o.MaxAmount.LessThan(o.MinAmount):
		return errors.ConfigurationError(errors.CodeInvalidConfig, "amount_range",
			fmt.Sprintf("%s..%s", o.MinAmount, o.MaxAmount), nil)
	case !o.Pattern.IsValid():
		return errors.ConfigurationError(errors.CodeInvalidConfig, "pattern", o.Pattern, nil).
			WithSuggestion("use one of: clean, dirty, drift")
	case o.DirtyRate < 0 || o.DirtyRate > 1:
		return errors.ConfigurationError(errors.CodeInvalidConfig, "dirty_rate", o.DirtyRate, nil)
	case o.DriftRate < 0 || o.DriftRate > 1:
		return errors.ConfigurationError(errors.CodeInvalidConfig, "drift_rate", o.DriftRate, nil)
	}
	return nil
}

// Stats is the generator's tally of what it wrote
type Stats struct {
	Rows             int            `json:"rows"`
	Customers        int            `json:"customers"`
	Merchants        int            `json:"merchants"`
	DirtyRows        int            `json:"dirty_rows"`
	Defects          map[string]int `json:"defects"`
	DriftedCustomers []string       `json:"drifted_customers,omitempty"`
}

func (s *Stats) String() string {
	return fmt.Sprintf("%d rows for %d customers and %d merchants (%d dirty, %d drifted customers)",
		s.Rows, s.Customers, s.Merchants, s.DirtyRows, len(s.DriftedCustomers))
}

type customer struct {
	id, name, gender, age string
	state, city           string
	branch, accountType   string
	contact, email        string
}

type merchant struct {
	id, category string
}

var (
	firstNames   = []string{"Asha", "Ravi", "Meera", "Arjun", "Divya", "Kiran", "Nisha", "Vikram", "Pooja", "Rahul"}
	lastNames    = []string{"Nair", "Iyer", "Sharma", "Reddy", "Das", "Menon", "Gupta", "Rao"}
	genders      = []string{"Male", "Female", "Other"}
	places       = [][2]string{{"Kochi", "Kerala"}, {"Chennai", "Tamil Nadu"}, {"Pune", "Maharashtra"}, {"Mumbai", "Maharashtra"}, {"Jaipur", "Rajasthan"}, {"Lucknow", "Uttar Pradesh"}}
	accountTypes = []string{"Savings", "Checking", "Business"}
	categories   = []string{"Groceries", "Electronics", "Travel", "Restaurant", "Health", "Entertainment", "Clothing"}
	txTypes      = []string{"Debit", "Credit", "Transfer", "Withdrawal", "Bill Payment"}
	devices      = [][2]string{{"Mobile App", "Mobile"}, {"Web Browser", "Desktop"}, {"ATM Booth", "ATM"}, {"POS Terminal", "POS"}, {"Banking Chatbot", "Mobile"}}
	currencies   = []string{"INR", "INR", "INR", "USD", "EUR"}
	descriptions = []string{"Weekly shop", "Online order", "Fuel", "Utility bill", "Dinner", "Flight booking", "Pharmacy"}

	// missingMarkers are the spellings of a missing value found in real exports.
	missingMarkers = []string{"", "NaN", "NULL", "N/A", "None"}
)

// Generator produces export rows
type Generator struct {
	opts      Options
	rng       *rand.Rand
	customers []customer
	merchants []merchant
	drifted   []string
}

// New creates a generator. The customer and merchant bases depend only on
// the seed and their counts, so a drift export shares them with a clean one.
func New(opts *Options) (*Generator, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	g := &Generator{opts: *opts}
	base := rand.New(rand.NewSource(opts.Seed))
	g.customers = makeCustomers(base, opts.Customers)
	g.merchants = makeMerchants(base, opts.Merchants)

	if opts.Pattern == PatternDrift {
		g.drift(rand.New(rand.NewSource(opts.Seed + 1)))
	}
	g.rng = rand.New(rand.NewSource(opts.Seed + 2))
	return g, nil
}

func makeCustomers(rng *rand.Rand, n int) []customer {
	out := make([]customer, n)
	for i := range out {
		place := places[rng.Intn(len(places))]
		first := firstNames[rng.Intn(len(firstNames))]
		last := lastNames[rng.Intn(len(lastNames))]
		out[i] = customer{
			id:          fmt.Sprintf("C%05d", i+1),
			name:        first + " " + last,
			gender:      genders[rng.Intn(len(genders))],
			age:         fmt.Sprint(18 + rng.Intn(62)),
			state:       place[1],
			city:        place[0],
			branch:      place[0] + " Main",
			accountType: accountTypes[rng.Intn(len(accountTypes))],
			contact:     fmt.Sprintf("+91%010d", rng.Int63n(1e10)),
			email:       fmt.Sprintf("%s.%s%d@example.com", strings.ToLower(first), strings.ToLower(last), i+1),
		}
	}
	return out
}

func makeMerchants(rng *rand.Rand, n int) []merchant {
	out := make([]merchant, n)
	for i := range out {
		out[i] = merchant{
			id:       fmt.Sprintf("M%04d", i+1),
			category: categories[rng.Intn(len(categories))],
		}
	}
	return out
}

// drift changes the contact details of a share of customers
func (g *Generator) drift(rng *rand.Rand) {
	n := int(float64(len(g.customers)) * g.opts.DriftRate)
	for _, i := range rng.Perm(len(g.customers))[:n] {
		c := &g.customers[i]
		c.contact = fmt.Sprintf("+91%010d", rng.Int63n(1e10))
		c.email = strings.Replace(c.email, "@example.com", ".new@example.com", 1)
		g.drifted = append(g.drifted, c.id)
	}
}

// Rows returns the generated rows in export column order, without header
func (g *Generator) Rows() ([][]string, *Stats) {
	stats := &Stats{
		Customers:        len(g.customers),
		Merchants:        len(g.merchants),
		Defects:          make(map[string]int),
		DriftedCustomers: append([]string(nil), g.drifted...),
	}

	rows := make([][]string, 0, g.opts.Count)
	for i := 0; i < g.opts.Count; i++ {
		row := g.row(i)
		if g.opts.Pattern == PatternDirty && g.rng.Float64() < g.opts.DirtyRate {
			stats.Defects[g.damage(row)]++
			stats.DirtyRows++
		}
		rows = append(rows, row)
	}
	stats.Rows = len(rows)
	return rows, stats
}

// row builds the i-th row. The first rows walk the customer and merchant
// bases so that every customer and merchant appears once the export is
// large enough.
func (g *Generator) row(i int) []string {
	c := g.customers[i%len(g.customers)]
	if i >= len(g.customers) {
		c = g.customers[g.rng.Intn(len(g.customers))]
	}
	m := g.merchants[i%len(g.merchants)]
	if i >= len(g.merchants) {
		m = g.merchants[g.rng.Intn(len(g.merchants))]
	}
	device := devices[g.rng.Intn(len(devices))]
	place := places[g.rng.Intn(len(places))]

	span := g.opts.EndDate.Sub(g.opts.StartDate)
	at := g.opts.StartDate.Add(time.Duration(g.rng.Int63n(int64(span)))).Truncate(time.Second)

	amount := decimal.NewFromFloat(g.rng.Float64()).
		Mul(g.opts.MaxAmount.Sub(g.opts.MinAmount)).
		Add(g.opts.MinAmount).
		Round(2)
	balance := decimal.NewFromInt(g.rng.Int63n(500000)).Add(amount).Round(2)

	fraud := "0"
	if g.rng.Float64() < 0.05 {
		fraud = "1"
	}

	values := map[string]string{
		models.ColCustomerID:          c.id,
		models.ColCustomerName:        c.name,
		models.ColGender:              c.gender,
		models.ColAge:                 c.age,
		models.ColState:               c.state,
		models.ColCity:                c.city,
		models.ColBankBranch:          c.branch,
		models.ColAccountType:         c.accountType,
		models.ColTransactionID:       fmt.Sprintf("%s%07d", g.opts.IDPrefix, i+1),
		models.ColTransactionDate:     at.Format("02-01-2006"),
		models.ColTransactionTime:     at.Format("15:04:05"),
		models.ColTransactionAmount:   g.money(amount),
		models.ColMerchantID:          m.id,
		models.ColTransactionType:     txTypes[g.rng.Intn(len(txTypes))],
		models.ColMerchantCategory:    m.category,
		models.ColAccountBalance:      g.money(balance),
		models.ColTransactionDevice:   device[0],
		models.ColTransactionLocation: place[0] + ", " + place[1],
		models.ColDeviceType:          device[1],
		models.ColIsFraud:             fraud,
		models.ColCurrency:            currencies[g.rng.Intn(len(currencies))],
		models.ColCustomerContact:     c.contact,
		models.ColDescription:         descriptions[g.rng.Intn(len(descriptions))],
		models.ColCustomerEmail:       c.email,
	}

	row := make([]string, len(models.RawColumns))
	for j, col := range models.RawColumns {
		row[j] = values[col]
	}
	return row
}

// money writes d either plain or with a currency symbol and thousands
// separators, the two spellings found in exports.
func (g *Generator) money(d decimal.Decimal) string {
	if g.rng.Intn(2) == 0 {
		return d.StringFixed(2)
	}
	return "$" + groupThousands(d.StringFixed(2))
}

func groupThousands(s string) string {
	whole, frac, _ := strings.Cut(s, ".")
	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return b.String() + "." + frac
}

// damage gives row exactly one defect and returns its kind
func (g *Generator) damage(row []string) string {
	switch g.rng.Intn(3) {
	case 0:
		col := g.rng.Intn(len(row))
		row[col] = missingMarkers[g.rng.Intn(len(missingMarkers))]
		return DefectMissing
	case 1:
		row[columnIndex(models.ColTransactionDate)] = "31-31-2024"
		return DefectTimestamp
	default:
		row[columnIndex(models.ColTransactionAmount)] = "twelve"
		return DefectAmount
	}
}

func columnIndex(name string) int {
	for i, col := range models.RawColumns {
		if col == name {
			return i
		}
	}
	return -1
}

// Write writes the header and the generated rows to w as CSV
func (g *Generator) Write(w io.Writer) (*Stats, error) {
	rows, stats := g.Rows()

	writer := csv.NewWriter(w)
	if err := writer.Write(models.RawColumns); err != nil {
		return nil, err
	}
	if err := writer.WriteAll(rows); err != nil {
		return nil, err
	}
	return stats, nil
}

// WriteFile generates an export into path, creating parent directories
func WriteFile(path string, opts *Options) (*Stats, error) {
	g, err := New(opts)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.FileError(errors.CodeFileWrite, path, err)
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, errors.FileError(errors.CodeFileWrite, path, err)
	}
	defer file.Close()

	stats, err := g.Write(file)
	if err != nil {
		return nil, errors.FileError(errors.CodeFileWrite, path, err)
	}
	if err := file.Close(); err != nil {
		return nil, errors.FileError(errors.CodeFileWrite, path, err)
	}
	return stats, nil
}
