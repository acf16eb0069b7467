// Package polytail estimates poly(A) and poly(T) tail lengths. The tail is
// located in the called sequence relative to the library primers; its length
// is measured from signal dwell time rather than counted bases.
package polytail
