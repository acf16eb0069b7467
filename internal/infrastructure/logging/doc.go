// Package logging provides structured logging using uber/zap.
//
// Production output is sampled JSON on stderr. Development output is
// coloured console text with callers. Standard output carries read records,
// so neither mode writes there unless OutputPaths says so.
//
// Every pipeline stage logs through a child logger named after it:
//
//	stageLog := logger.Stage("correction")
//	stageLog.Error("window failed", logging.ReadID(id), zap.Error(err))
package logging
