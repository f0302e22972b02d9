// ABOUTME: Façade over the conversational core: guarded turn handling, catalog resolution, intents
// ABOUTME: Nothing here is fatal; unexpected failures degrade to not-handled for an outer responder
package turn
