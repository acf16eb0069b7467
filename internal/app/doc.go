// Package app wires configuration, models and nodes into a runnable job.
//
// A run builds one of two node chains, feeds it from the inputs, then
// terminates the pipeline so every read in flight reaches the writer:
//
//	basecall: scaler → basecaller → [modbase] → read_filter → [poly_tail]
//	          → [barcode_classifier] → [aligner] → read_to_record → writer
//	correct:  correction_mapper → correction → read_to_record → writer
//	          correction_mapper → paf_writer (with ToPAF)
//
// Every run gets a ULID run ID and its own Prometheus registry. With a
// status address configured, the status server runs alongside the feed in
// an errgroup and stops once the pipeline has drained.
//
// Example Usage:
//
//	a, err := app.New(cfg, app.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	stats, err := a.Basecall(ctx, []string{"signals/"})
//
// Main implements the readpipe command line on top of App. Flags override
// environment configuration; a -config file sits between the two.
package app
