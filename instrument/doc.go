// Package instrument brackets named spans of work with timing marks.
//
//	rec := instrument.NewRecorder(instrument.WithSink(metrics))
//	exit := rec.Measure("load module", instrument.Roles{instrument.RoleThread})
//	defer exit()
//
// Each completed span is labelled
//
//	|load module| (wasm-threads) [thread #3f9a]
//
// where the trailing id is random per recorder. Roles are passed explicitly
// with every call; nothing is accumulated in package state. Spans never
// affect the control flow of the code they wrap.
package instrument
