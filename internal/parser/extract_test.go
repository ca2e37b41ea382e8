package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtract_JSFamily(t *testing.T) {
	src := []byte(`
import React from 'react';
import { helper } from './utils/helper';
import * as path from "../shared/path";
import './styles.css';
export { thing } from './thing';
export * from "./barrel";
const lazy = import('./lazy');
const legacy = require('./legacy');
`)

	refs := NewExtractor().Extract(src, "src/app.tsx")
	assert.ElementsMatch(t, []string{
		"react",
		"./utils/helper",
		"../shared/path",
		"./styles.css",
		"./thing",
		"./barrel",
		"./lazy",
		"./legacy",
	}, refs)
}

func TestExtract_JSDeterministicAndDeduped(t *testing.T) {
	src := []byte(`
import a from './a';
import again from './a';
`)
	e := NewExtractor()
	first := e.Extract(src, "x.ts")
	second := e.Extract(src, "x.ts")
	assert.Equal(t, []string{"./a"}, first)
	assert.Equal(t, first, second)
}

func TestExtract_Python(t *testing.T) {
	src := []byte(`
import os
import models.user, models.order as mo
from .helpers import slug
from ..common.text import clean
from services.auth import login
from . import base
`)

	refs := NewExtractor().Extract(src, "app/views.py")
	assert.ElementsMatch(t, []string{
		"os",
		"models/user",
		"models/order",
		"./helpers",
		"../common/text",
		"services/auth",
	}, refs)
}

func TestExtract_UnsupportedExtension(t *testing.T) {
	refs := NewExtractor().Extract([]byte(`import "fmt"`), "main.go")
	assert.Nil(t, refs)
}

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		path string
		lang Language
		ok   bool
	}{
		{"a.ts", LangJS, true},
		{"a.tsx", LangJS, true},
		{"a.js", LangJS, true},
		{"a.jsx", LangJS, true},
		{"a.py", LangPython, true},
		{"a.go", "", false},
		{"README.md", "", false},
	}
	for _, tt := range tests {
		lang, ok := DetectLanguage(tt.path)
		assert.Equal(t, tt.ok, ok, tt.path)
		if ok {
			assert.Equal(t, tt.lang, lang, tt.path)
		}
	}
}
