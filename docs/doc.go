// Package docs provides generated OpenAPI documentation.
//
// Quarters API
//
//	@title			Quarters API
//	@version		1.0
//	@description	Extraction job tracking and gallery reconciliation API for property dashboards.
//	@termsOfService	http://swagger.io/terms/
//
//	@contact.name	API Support
//	@contact.url	https://github.com/quartershq/quarters
//
//	@license.name	MIT
//	@license.url	https://opensource.org/licenses/MIT
//
//	@host		localhost:7780
//	@BasePath	/
//
//	@schemes	http https
package docs

//go:generate swag init -g ../cmd/quarters/serve.go -o ./swagger --parseDependency --parseInternal
