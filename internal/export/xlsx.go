// Package export writes candidates and conflict reviews to spreadsheets for
// offline review.
package export

import (
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/contact-match/internal/model"
)

const timeLayout = "2006-01-02 15:04"

// Sheet names.
const (
	CandidatesSheet = "Candidates"
	VariantsSheet   = "Variants"
	ConflictsSheet  = "Conflicts"
)

var (
	candidateHeader = []string{"ID", "Entity Type", "Name", "Match Key", "Score", "Status", "Organizations", "Company ID", "Publication IDs", "Scan Job", "Updated"}
	variantHeader   = []string{"Candidate ID", "Organization ID", "Organization", "Contact ID", "Name", "Emails", "Company", "Publications"}
	conflictHeader  = []string{"ID", "Priority", "Entity Type", "Entity ID", "Entity", "Field", "Current", "Suggested", "Confidence", "Recommendation", "Current Age (days)", "Status", "Created"}
)

// Recommender derives the advisory decision for a review.
type Recommender interface {
	Recommendation(review *model.ConflictReview) model.Recommendation
}

// Candidates writes one row per candidate plus a sheet listing every
// contributing variant.
func Candidates(path string, cands []model.MatchingCandidate) error {
	f := xlsx.NewFile()

	sheet, err := newSheet(f, CandidatesSheet, candidateHeader)
	if err != nil {
		return err
	}
	variants, err := newSheet(f, VariantsSheet, variantHeader)
	if err != nil {
		return err
	}

	for i := range cands {
		c := &cands[i]
		orgs := c.Organizations()
		sort.Strings(orgs)

		row := sheet.AddRow()
		addStrings(row, c.ID, string(c.EntityType), c.DisplayName, c.MatchKey)
		row.AddCell().SetInt(c.Score)
		addStrings(row,
			string(c.Status),
			strings.Join(orgs, ", "),
			c.CompanyID,
			strings.Join(c.PublicationIDs, ", "),
			c.ScanJobID,
			c.UpdatedAt.UTC().Format(timeLayout),
		)

		for _, v := range c.Variants {
			d := v.ContactData
			addStrings(variants.AddRow(),
				c.ID,
				v.OrganizationID,
				v.OrganizationName,
				v.ContactID,
				d.FullName(),
				strings.Join(d.EmailAddresses(), ", "),
				d.CompanyName,
				strings.Join(d.Publications, ", "),
			)
		}
	}

	return save(f, path)
}

// Conflicts writes one row per review with its recommendation.
func Conflicts(path string, reviews []model.ConflictReview, rec Recommender) error {
	f := xlsx.NewFile()
	sheet, err := newSheet(f, ConflictsSheet, conflictHeader)
	if err != nil {
		return err
	}

	for i := range reviews {
		r := &reviews[i]
		row := sheet.AddRow()
		addStrings(row,
			r.ID,
			string(r.Priority),
			string(r.EntityType),
			r.EntityID,
			r.EntityName,
			r.Field,
			r.CurrentValue,
			r.SuggestedValue,
		)
		row.AddCell().SetFloat(r.Confidence)
		addStrings(row, string(rec.Recommendation(r)))
		row.AddCell().SetInt(r.Evidence.CurrentValueAge)
		addStrings(row, string(r.Status), r.CreatedAt.UTC().Format(timeLayout))
	}

	return save(f, path)
}

func newSheet(f *xlsx.File, name string, header []string) (*xlsx.Sheet, error) {
	sheet, err := f.AddSheet(name)
	if err != nil {
		return nil, eris.Wrapf(err, "export: add sheet %s", name)
	}
	addStrings(sheet.AddRow(), header...)
	return sheet, nil
}

func addStrings(row *xlsx.Row, values ...string) {
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

func save(f *xlsx.File, path string) error {
	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "export: save %s", path)
	}
	return nil
}
