// Package logger provides structured logging for pixivdl on top of zerolog.
//
// Components accept a Logger and fall back to the global one when given nil:
//
//	log := logger.OrGlobal(l).WithFields(map[string]interface{}{
//	    "namespace": "bookmarks",
//	    "run_id":    runID,
//	})
//	log.Info("Crawl started")
//
// Console output is colourised; when LoggingConfig.File is set records are
// also appended to that file. Tests use NewNopLogger or NewTestLogger.
package logger
