package chatclient

import "vinochat/internal/models"

// View is the surface a Session renders into. Markup passed to it has
// already been through RenderHTML.
type View interface {
	AppendMessage(role models.Role, html string)
	// ShowError renders a banner that is not part of the transcript.
	ShowError(html string)
	SetLoading(on bool)
	SetSubmitEnabled(enabled bool)
	SetInput(text string)
	SetWeather(icon Icon, text string)
	ShowSearchResults(results []models.SearchResult, err error)
}
