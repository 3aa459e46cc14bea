package service

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/archie-dev/archie/domain/graph"
)

// declPattern extracts one top-level declaration per matched line: a kind
// tag ("func", "class", "struct", "interface", "enum", "def", "type") and
// the name that follows it. Scoped to the handful of keywords common across
// the languages IngestionPipeline already classifies by extension
// (languageFromPath), rather than a full per-language grammar — entity
// extraction here is line-oriented and heuristic (§4.3: "confidence
// reflects whether the evidence is direct ... or heuristic"), not an AST
// walk. This module carries no tree-sitter-based analyzer; see DESIGN.md.
var declPattern = regexp.MustCompile(
	`(?m)^\s*(?:export\s+|public\s+|private\s+|protected\s+|static\s+)*` +
		`(func|class|struct|interface|enum|def|type)\s+(?:\([^)]*\)\s*)?([A-Za-z_][A-Za-z0-9_]*)`,
)

var identPattern = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)

func entityKindFor(keyword string) graph.EntityType {
	switch keyword {
	case "func", "def":
		return graph.EntityMethod
	case "class":
		return graph.EntityClass
	case "struct":
		return graph.EntityStruct
	case "interface":
		return graph.EntityInterface
	case "enum":
		return graph.EntityEnum
	case "type":
		return graph.EntityStruct
	default:
		return graph.EntityClass
	}
}

// entityID derives a stable identifier from (repositoryID, fully qualified
// name, kind) per §4.3's "Entity identifiers are derived deterministically"
// invariant, using the same sha256-of-fields idiom as ingestion.go's
// documentID.
func entityID(repositoryID int64, fqName string, kind graph.EntityType) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%s|%s", repositoryID, fqName, kind)
	return hex.EncodeToString(h.Sum(nil))
}

// extractedFile is one file's declarations, ready to fold into the
// repository-wide entity/relationship set.
type extractedFile struct {
	path     string
	language string
	lines    []string
	decls    []declaration
}

type declaration struct {
	entity    graph.CodeEntity
	startLine int
}

// extractFile scans content for top-level declarations (Surface depth) and
// returns the File entity, the declaration entities it contains, and the
// Contains edges between them.
func extractFile(repositoryID int64, path, language, content string) (extractedFile, []graph.CodeEntity, []graph.CodeRelationship) {
	lines := strings.Split(content, "\n")

	fileEntity := graph.CodeEntity{
		EntityID:           entityID(repositoryID, path, graph.EntityFile),
		RepositoryID:       repositoryID,
		Name:               path,
		FullyQualifiedName: path,
		Type:               graph.EntityFile,
		Language:           language,
		Location:           graph.SourceLocation{Path: path, StartLine: 1, EndLine: len(lines)},
	}

	entities := []graph.CodeEntity{fileEntity}
	var relationships []graph.CodeRelationship

	ef := extractedFile{path: path, language: language, lines: lines}

	matches := declPattern.FindAllStringSubmatchIndex(content, -1)
	for _, m := range matches {
		keyword := content[m[2]:m[3]]
		name := content[m[4]:m[5]]
		fqName := path + "::" + name
		kind := entityKindFor(keyword)
		startLine := 1 + strings.Count(content[:m[0]], "\n")

		entity := graph.CodeEntity{
			EntityID:           entityID(repositoryID, fqName, kind),
			RepositoryID:       repositoryID,
			Name:               name,
			FullyQualifiedName: fqName,
			Type:               kind,
			Language:           language,
			Location:           graph.SourceLocation{Path: path, StartLine: startLine, EndLine: startLine},
		}
		entities = append(entities, entity)
		ef.decls = append(ef.decls, declaration{entity: entity, startLine: startLine})

		relationships = append(relationships, graph.CodeRelationship{
			ID:             fmt.Sprintf("%s>contains>%s", fileEntity.EntityID, entity.EntityID),
			SourceEntityID: fileEntity.EntityID,
			TargetEntityID: entity.EntityID,
			Type:           graph.RelationContains,
			Weight:         1,
			Confidence:     1,
		})
	}

	return ef, entities, relationships
}

// extractReferences adds Uses edges between declarations in the same file
// whenever one declaration's body (the lines up to the next declaration, or
// EOF) mentions another declaration's name (Standard depth: "member-level
// and first-order references"). Evidence is a name occurrence, not symbol
// resolution, so confidence is fixed at a heuristic value below 1.
func extractReferences(ef extractedFile) []graph.CodeRelationship {
	const heuristicConfidence = 0.4
	var relationships []graph.CodeRelationship

	for i, from := range ef.decls {
		end := len(ef.lines)
		if i+1 < len(ef.decls) {
			end = ef.decls[i+1].startLine - 1
		}
		start := from.startLine
		if start < 1 {
			start = 1
		}
		if start > len(ef.lines) {
			continue
		}
		if end > len(ef.lines) {
			end = len(ef.lines)
		}
		body := strings.Join(ef.lines[start:end], "\n")
		mentioned := make(map[string]bool)
		for _, tok := range identPattern.FindAllString(body, -1) {
			mentioned[tok] = true
		}

		for j, to := range ef.decls {
			if i == j || !mentioned[to.entity.Name] {
				continue
			}
			relationships = append(relationships, graph.CodeRelationship{
				ID:             fmt.Sprintf("%s>uses>%s", from.entity.EntityID, to.entity.EntityID),
				SourceEntityID: from.entity.EntityID,
				TargetEntityID: to.entity.EntityID,
				Type:           graph.RelationUses,
				Weight:         1,
				Confidence:     heuristicConfidence,
			})
		}
	}
	return relationships
}

// extractFileDependencies adds DependsOn edges at file granularity (Deep
// depth: "additionally traces transitive relationships") whenever one
// file's content textually references another file's base name without
// its extension, the same import-like heuristic used for first-order
// references, widened to file scope. Weight is the pair's mention count
// divided by the largest mention count of any pair, so the most-mentioned
// pair weighs 1 (§4.3: "frequency-normalized").
func extractFileDependencies(repositoryID int64, files []extractedFile) []graph.CodeRelationship {
	baseNames := make(map[string]string, len(files)) // base name -> path
	for _, f := range files {
		base := f.path
		if idx := strings.LastIndex(base, "/"); idx >= 0 {
			base = base[idx+1:]
		}
		if idx := strings.LastIndex(base, "."); idx >= 0 {
			base = base[:idx]
		}
		if base != "" {
			baseNames[base] = f.path
		}
	}

	var relationships []graph.CodeRelationship
	var maxCount int
	counts := make(map[[2]string]int)

	for _, f := range files {
		content := strings.Join(f.lines, "\n")
		for base, targetPath := range baseNames {
			if targetPath == f.path {
				continue
			}
			n := strings.Count(content, base)
			if n == 0 {
				continue
			}
			key := [2]string{f.path, targetPath}
			counts[key] = n
			if n > maxCount {
				maxCount = n
			}
		}
	}
	if maxCount == 0 {
		return nil
	}

	for key, n := range counts {
		weight := float64(n) / float64(maxCount)
		relationships = append(relationships, graph.CodeRelationship{
			ID:             fmt.Sprintf("%d:%s>depends_on>%s", repositoryID, entityID(repositoryID, key[0], graph.EntityFile), entityID(repositoryID, key[1], graph.EntityFile)),
			SourceEntityID: entityID(repositoryID, key[0], graph.EntityFile),
			TargetEntityID: entityID(repositoryID, key[1], graph.EntityFile),
			Type:           graph.RelationDependsOn,
			Weight:         weight,
			Confidence:     0.3,
		})
	}
	return relationships
}
