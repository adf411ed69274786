package model

// Providers.
const (
	ProviderIBM    = "ibm"
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// CatalogEntry is one selectable model.
type CatalogEntry struct {
	Label string `json:"label"`
	ID    string `json:"id"`
}

// GraniteModels are the watsonx models offered by the selector.
var GraniteModels = []CatalogEntry{
	{"Granite 13B Instruct", "ibm/granite-13b-instruct-v2"},
	{"Granite 20B Code Instruct", "ibm/granite-20b-code-instruct"},
	{"Granite 3.2 8B Instruct", "ibm/granite-3-2-8b-instruct"},
	{"Granite 3.2B Instruct", "ibm/granite-3-2b-instruct"},
	{"Granite 3.3 8B Instruct", "ibm/granite-3-3-8b-instruct"},
	{"Granite 3.8B Instruct", "ibm/granite-3-8b-instruct"},
	{"Granite 34B Code Instruct", "ibm/granite-34b-code-instruct"},
	{"Granite 3B Code Instruct", "ibm/granite-3b-code-instruct"},
	{"Granite 8B Code Instruct", "ibm/granite-8b-code-instruct"},
	{"Granite Guardian 3.2B", "ibm/granite-guardian-3-2b"},
	{"Granite Guardian 3.8B", "ibm/granite-guardian-3-8b"},
	{"Granite Vision 3.2 2B", "ibm/granite-vision-3-2-2b"},
}

var OpenAIModels = []CatalogEntry{
	{"GPT-3.5 Turbo", "gpt-3.5-turbo"},
	{"GPT-4o", "gpt-4o"},
	{"GPT-4 Turbo", "gpt-4-turbo"},
	{"GPT-4o Mini", "gpt-4o-mini"},
}

var GeminiModels = []CatalogEntry{
	{"Gemini 2.5 Flash", "gemini-2.5-flash"},
	{"Gemini 2.5 Flash Lite", "gemini-2.5-flash-lite"},
}

// SelectorDefaultGranite is the model preselected when the selector is shown.
const SelectorDefaultGranite = "ibm/granite-3-2b-instruct"

// InCatalog reports whether id is listed for provider.
func InCatalog(provider, id string) bool {
	var list []CatalogEntry
	switch provider {
	case ProviderIBM:
		list = GraniteModels
	case ProviderOpenAI:
		list = OpenAIModels
	case ProviderGemini:
		list = GeminiModels
	}
	for _, e := range list {
		if e.ID == id {
			return true
		}
	}
	return false
}
