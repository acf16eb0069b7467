package barcode

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/GriffinCanCode/readpipe/internal/message"
)

var (
	ErrUnknownKit = errors.New("unknown barcode kit")
	ErrInvalidKit = errors.New("invalid barcode kit")
)

// Barcode is one named barcode sequence of a kit.
type Barcode struct {
	Name     string `yaml:"name"`
	Sequence string `yaml:"sequence"`
}

// Kit describes the flanks around every barcode of a kit. Double-ended kits
// carry a second copy at the read end, read as BottomFront +
// revcomp(barcode) + BottomRear on the forward strand.
type Kit struct {
	Name        string    `yaml:"name"`
	DoubleEnds  bool      `yaml:"double_ends"`
	TopFront    string    `yaml:"top_front_flank"`
	TopRear     string    `yaml:"top_rear_flank"`
	BottomFront string    `yaml:"bottom_front_flank"`
	BottomRear  string    `yaml:"bottom_rear_flank"`
	Barcodes    []Barcode `yaml:"barcodes"`
}

type kitFile struct {
	Kits []*Kit `yaml:"kits"`
}

func (k *Kit) validate() error {
	if k.Name == "" {
		return fmt.Errorf("%w: kit without a name", ErrInvalidKit)
	}
	if len(k.Barcodes) == 0 {
		return fmt.Errorf("%w: kit %s has no barcodes", ErrInvalidKit, k.Name)
	}
	if k.TopFront == "" && k.TopRear == "" {
		return fmt.Errorf("%w: kit %s has no top flanks", ErrInvalidKit, k.Name)
	}
	if k.DoubleEnds && k.BottomFront == "" && k.BottomRear == "" {
		return fmt.Errorf("%w: double-ended kit %s has no bottom flanks", ErrInvalidKit, k.Name)
	}
	width := len(k.Barcodes[0].Sequence)
	for i := range k.Barcodes {
		bc := &k.Barcodes[i]
		bc.Sequence = strings.ToUpper(bc.Sequence)
		if bc.Name == "" || bc.Sequence == "" {
			return fmt.Errorf("%w: kit %s has an empty barcode", ErrInvalidKit, k.Name)
		}
		if len(bc.Sequence) != width {
			return fmt.Errorf("%w: kit %s mixes barcode lengths", ErrInvalidKit, k.Name)
		}
	}
	k.TopFront = strings.ToUpper(k.TopFront)
	k.TopRear = strings.ToUpper(k.TopRear)
	k.BottomFront = strings.ToUpper(k.BottomFront)
	k.BottomRear = strings.ToUpper(k.BottomRear)
	return nil
}

// BarcodeLen returns the shared length of the kit's barcodes.
func (k *Kit) BarcodeLen() int {
	return len(k.Barcodes[0].Sequence)
}

// StandardName renders a barcode as "<kit>_barcodeNN".
func StandardName(kit, name string) string {
	digits := strings.TrimLeftFunc(name, func(r rune) bool { return r < '0' || r > '9' })
	if digits == "" {
		return kit + "_" + name
	}
	for len(digits) < 2 {
		digits = "0" + digits
	}
	return kit + "_barcode" + digits
}

// Registry holds kits by name.
type Registry struct {
	kits map[string]*Kit
}

// NewRegistry builds a registry of the built-in kits plus extra.
func NewRegistry(extra ...*Kit) (*Registry, error) {
	r := &Registry{kits: make(map[string]*Kit)}
	builtin, err := ParseKits([]byte(builtinKits))
	if err != nil {
		return nil, err
	}
	for _, k := range append(builtin, extra...) {
		r.kits[k.Name] = k
	}
	return r, nil
}

// Get returns the named kit.
func (r *Registry) Get(name string) (*Kit, error) {
	k, ok := r.kits[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKit, name)
	}
	return k, nil
}

// Names lists the registered kits.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.kits))
	for n := range r.kits {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ParseKits decodes a YAML kit document.
func ParseKits(data []byte) ([]*Kit, error) {
	var f kitFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKit, err)
	}
	for _, k := range f.Kits {
		if err := k.validate(); err != nil {
			return nil, err
		}
	}
	return f.Kits, nil
}

// LoadKitFile reads custom kits from a YAML file.
func LoadKitFile(path string) ([]*Kit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read kit file: %w", err)
	}
	return ParseKits(data)
}

func revcomp(s string) string {
	return message.ReverseComplement(s)
}

const builtinKits = `
kits:
  - name: SQK-RBK114-4
    double_ends: false
    top_front_flank: GCTTGGGTGTTTAACC
    top_rear_flank: GTTTTCGCATTTATCGTGAAACGCTTTCGCGTTTTTCGTGCGCCGCTTCA
    barcodes:
      - {name: RB01, sequence: AAGAAAGTTGTCGGTGTCTTTGTG}
      - {name: RB02, sequence: TCGATTCCGTTTGTAGTCGTCTGT}
      - {name: RB03, sequence: GAGTCTTGTGTCCCAGTTACCAGG}
      - {name: RB04, sequence: TTCGGATTCTATCGTGTTTCCCTA}
  - name: SQK-NBD114-4
    double_ends: true
    top_front_flank: AAGGTTAA
    top_rear_flank: CAGCACCT
    bottom_front_flank: AGGTGCTG
    bottom_rear_flank: TTAACCTTAGCAAT
    barcodes:
      - {name: NB01, sequence: CACAAAGACACCGACAACTTTCTT}
      - {name: NB02, sequence: ACAGACGACTACAAACGGAATCGA}
      - {name: NB03, sequence: CCTGGTAACTGGGACACAAGACTC}
      - {name: NB04, sequence: TAGGGAAACACGATAGAATCCGAA}
`
