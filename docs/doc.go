// Package docs provides generated OpenAPI documentation.
//
// quire API
//
//	@title			quire API
//	@version		1.0
//	@description	Download engine for serialized books: jobs, update checks, library and configuration.
//
//	@contact.name	API Support
//	@contact.url	https://github.com/jackzampolin/quire
//
//	@license.name	MIT
//	@license.url	https://opensource.org/licenses/MIT
//
//	@host		localhost:8080
//	@BasePath	/
//
//	@schemes	http
package docs

//go:generate swag init -g ../cmd/quire/serve.go -o ./swagger --parseDependency --parseInternal
