// Package recipe loads recipe documents from disk.
//
// A recipe is a TOML or YAML file declaring packages, systemd units, template
// variable sets and an ordered list of steps:
//
//	packages = ["nginx"]
//	systemd  = ["nginx.service"]
//
//	[[template_vars]]
//	site = "blog"
//
//	[[steps]]
//	kind     = "install"
//	template = true
//	src      = "files/site.conf"
//	dest     = "/etc/nginx/sites-enabled/{{site}}.conf"
//	mode     = "0644"
//
// Documents are decoded strictly: unknown keys, keys that belong to another
// step kind and missing required keys are parse defects. The decoded file is
// then checked against the CUE definition in RecipeSchema.
//
// A Loader accepts a recipe file, a directory containing recipe.toml,
// recipe.yaml or recipe.yml, or a cookbook directory of such directories. A
// vars.star Starlark script beside a recipe may compute further variable sets
// by assigning a list of dicts to template_vars.
package recipe
