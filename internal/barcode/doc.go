// Package barcode classifies reads against barcoding kits and trims the
// barcodes it finds. Kits are built in or loaded from YAML.
package barcode
